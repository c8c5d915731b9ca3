package search

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"xianyuwatch/internal/mtop"
	"xianyuwatch/internal/types"

	"go.uber.org/zap"
)

type searchData struct {
	ResultList []json.RawMessage `json:"resultList"`
}

type resultItem struct {
	Data struct {
		Item struct {
			Main struct {
				ExContent  exContent `json:"exContent"`
				ClickParam struct {
					Args clickArgs `json:"args"`
				} `json:"clickParam"`
				TargetURL mtop.Opt `json:"targetUrl"`
			} `json:"main"`
		} `json:"item"`
	} `json:"data"`
}

type exContent struct {
	Title        mtop.Opt        `json:"title"`
	Price        json.RawMessage `json:"price"`
	Area         mtop.Opt        `json:"area"`
	UserNickName mtop.Opt        `json:"userNickName"`
	PicURL       mtop.Opt        `json:"picUrl"`
	ItemID       mtop.Opt        `json:"itemId"`
	OriPrice     mtop.Opt        `json:"oriPrice"`
	FishTags     struct {
		R1 struct {
			TagList []struct {
				Data struct {
					Content mtop.Opt `json:"content"`
				} `json:"data"`
			} `json:"tagList"`
		} `json:"r1"`
	} `json:"fishTags"`
}

type clickArgs struct {
	PublishTime mtop.Opt `json:"publishTime"`
	WantNum     mtop.Opt `json:"wantNum"`
	Tag         mtop.Opt `json:"tag"`
}

type pricePart struct {
	Text mtop.Opt `json:"text"`
}

// Tags added from search metadata.
const (
	TagFreeShipping = "free shipping"
	TagInspection   = "inspection service"
)

// ParsePage decodes one intercepted search response. A body that is not a
// search envelope is an error; individual malformed entries are skipped.
func ParsePage(body []byte, log *zap.Logger) ([]types.Listing, error) {
	env, err := mtop.Decode[searchData](body)
	if err != nil {
		return nil, err
	}
	if !env.Succeeded() {
		return nil, fmt.Errorf("search response not successful: %s", strings.Join(env.Ret, ","))
	}
	if env.Data == nil {
		return nil, nil
	}

	listings := make([]types.Listing, 0, len(env.Data.ResultList))
	for i, raw := range env.Data.ResultList {
		var item resultItem
		if err := json.Unmarshal(raw, &item); err != nil {
			if log != nil {
				log.Warn("skipping malformed search entry", zap.Int("index", i), zap.Error(err))
			}
			continue
		}
		listings = append(listings, item.listing())
	}
	return listings, nil
}

func (it resultItem) listing() types.Listing {
	main := it.Data.Item.Main
	ex := main.ExContent
	args := main.ClickParam.Args

	var tags []string
	if args.Tag.Or("") == "freeship" {
		tags = append(tags, TagFreeShipping)
	}
	for _, t := range ex.FishTags.R1.TagList {
		if strings.Contains(t.Data.Content.Or(""), "验货宝") {
			tags = append(tags, TagInspection)
		}
	}

	return types.Listing{
		ID:            ex.ItemID.Or(types.UnknownID),
		Title:         ex.Title.Or(types.UnknownTitle),
		Price:         parsePrice(ex.Price),
		OriginalPrice: ex.OriPrice.Or(types.NotAvailable),
		WantCount:     args.WantNum.Or(types.UnknownWant),
		Tags:          tags,
		Region:        ex.Area.Or(types.UnknownRegion),
		SellerName:    ex.UserNickName.Or(types.UnknownSeller),
		Link:          RewriteLink(main.TargetURL.Or("")),
		PublishedAt:   FormatPublishTime(args.PublishTime),
		MainImage:     ex.PicURL.Or(""),
	}
}

// parsePrice joins the price fragments, drops the "current price" label and
// normalizes the ten-thousand suffix.
func parsePrice(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return types.UnknownPrice
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return types.UnknownPrice
	}
	var b strings.Builder
	for _, p := range parts {
		var part pricePart
		if err := json.Unmarshal(p, &part); err != nil {
			continue
		}
		b.WriteString(part.Text.Or(""))
	}
	price := strings.TrimSpace(strings.ReplaceAll(b.String(), "当前价", ""))
	if price == "" {
		return types.UnknownPrice
	}
	return NormalizePrice(price)
}

// NormalizePrice expands a "万" (ten-thousand) amount into an absolute yuan
// amount: "¥1.2万" becomes "¥12000". Other strings are returned unchanged, as
// are amounts that do not parse.
func NormalizePrice(price string) string {
	if !strings.Contains(price, "万") {
		return price
	}
	num := strings.TrimSpace(strings.NewReplacer("¥", "", "万", "").Replace(price))
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return price
	}
	return "¥" + strconv.FormatFloat(f*10000, 'f', 0, 64)
}

// RewriteLink maps the app deep-link scheme onto the web host.
func RewriteLink(link string) string {
	return strings.ReplaceAll(link, "fleamarket://", "https://www.goofish.com/")
}

// FormatPublishTime renders a millisecond epoch in local time.
func FormatPublishTime(ts mtop.Opt) string {
	if !ts.Digits() {
		return types.UnknownTime
	}
	ms, err := strconv.ParseInt(ts.Or(""), 10, 64)
	if err != nil {
		return types.UnknownTime
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}
