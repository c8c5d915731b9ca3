package enrich

import (
	"encoding/json"
	"fmt"

	"xianyuwatch/internal/mtop"
	"xianyuwatch/internal/types"

	"go.uber.org/zap"
)

type detailData struct {
	ItemDO struct {
		ImageInfos []struct {
			URL mtop.Opt `json:"url"`
		} `json:"imageInfos"`
		WantCnt   mtop.Opt `json:"wantCnt"`
		BrowseCnt mtop.Opt `json:"browseCnt"`
	} `json:"itemDO"`
	SellerDO struct {
		SellerID       mtop.Opt `json:"sellerId"`
		UserRegDay     mtop.Opt `json:"userRegDay"`
		ZhimaLevelInfo struct {
			LevelName mtop.Opt `json:"levelName"`
		} `json:"zhimaLevelInfo"`
	} `json:"sellerDO"`
}

// detail is what the detail response contributes.
type detail struct {
	SellerID       string
	TenureDays     int
	Tenure         string
	ExternalCredit string
}

// applyDetail backfills listing from a detail response body.
func applyDetail(body []byte, listing *types.Listing) (detail, error) {
	env, err := mtop.Decode[detailData](body)
	if err != nil {
		return detail{}, err
	}
	if env.Data == nil {
		return detail{}, fmt.Errorf("detail response has no data")
	}
	item, seller := env.Data.ItemDO, env.Data.SellerDO

	var images []string
	for _, img := range item.ImageInfos {
		if u := img.URL.Or(""); u != "" {
			images = append(images, u)
		}
	}
	if len(images) > 0 {
		listing.Images = images
		listing.MainImage = images[0]
	}
	listing.WantCount = item.WantCnt.Or(listing.WantCount)
	listing.ViewCount = item.BrowseCnt.Or(types.UnknownViews)

	d := detail{
		SellerID:       seller.SellerID.Or(""),
		Tenure:         types.UnknownTenure,
		ExternalCredit: seller.ZhimaLevelInfo.LevelName.Or(types.NotAvailable),
	}
	if days, ok := seller.UserRegDay.Int(); ok && days >= 0 {
		d.TenureDays = days
		d.Tenure = FormatTenure(days)
	}
	return d, nil
}

type headData struct {
	Module struct {
		Base struct {
			DisplayName mtop.Opt `json:"displayName"`
			Avatar      struct {
				Avatar mtop.Opt `json:"avatar"`
			} `json:"avatar"`
			Introduction mtop.Opt `json:"introduction"`
			YlzTags      []struct {
				Attributes struct {
					Role  mtop.Opt `json:"role"`
					Level mtop.Opt `json:"level"`
				} `json:"attributes"`
				Text mtop.Opt `json:"text"`
			} `json:"ylzTags"`
		} `json:"base"`
		Tabs struct {
			Item struct {
				Number mtop.Opt `json:"number"`
			} `json:"item"`
			Rate struct {
				Number mtop.Opt `json:"number"`
			} `json:"rate"`
		} `json:"tabs"`
	} `json:"module"`
}

// applyHead fills the profile header summary.
func applyHead(body []byte, p *types.SellerProfile) error {
	env, err := mtop.Decode[headData](body)
	if err != nil {
		return err
	}
	var h headData
	if env.Data != nil {
		h = *env.Data
	}
	base := h.Module.Base
	p.DisplayName = base.DisplayName.Or(types.NotAvailable)
	p.Avatar = base.Avatar.Avatar.Or(types.NotAvailable)
	p.Bio = base.Introduction.Or("")
	p.ItemCount = h.Module.Tabs.Item.Number.Or(types.NotAvailable)
	p.RatingCount = h.Module.Tabs.Rate.Number.Or(types.NotAvailable)
	p.SellerCredit = types.NoCreditTier
	p.BuyerCredit = types.NoCreditTier
	for _, tag := range base.YlzTags {
		switch tag.Attributes.Role.Or("") {
		case "seller":
			p.SellerCredit = tag.Text.Or(types.NoCreditTier)
		case "buyer":
			p.BuyerCredit = tag.Text.Or(types.NoCreditTier)
		}
	}
	return nil
}

// cardPage is one page of a profile list API.
type cardPage struct {
	mtop.Pages
	CardList []json.RawMessage `json:"cardList"`
}

func decodeCardPage(body []byte) (cardPage, error) {
	env, err := mtop.Decode[cardPage](body)
	if err != nil {
		return cardPage{}, err
	}
	if env.Data == nil {
		return cardPage{}, fmt.Errorf("list response has no data")
	}
	return *env.Data, nil
}

type itemCard struct {
	CardData struct {
		ID        mtop.Opt `json:"id"`
		Title     mtop.Opt `json:"title"`
		PriceInfo struct {
			Price mtop.Opt `json:"price"`
		} `json:"priceInfo"`
		PicInfo struct {
			PicURL mtop.Opt `json:"picUrl"`
		} `json:"picInfo"`
		ItemStatus mtop.Opt `json:"itemStatus"`
	} `json:"cardData"`
}

// Catalog status labels.
const (
	StatusOnSale = "on sale"
	StatusSold   = "sold"
)

func parseCatalog(cards []json.RawMessage, log *zap.Logger) []types.CatalogItem {
	items := make([]types.CatalogItem, 0, len(cards))
	for _, raw := range cards {
		var c itemCard
		if err := json.Unmarshal(raw, &c); err != nil {
			log.Debug("skipping malformed catalog card", zap.Error(err))
			continue
		}
		d := c.CardData
		items = append(items, types.CatalogItem{
			ID:     d.ID.Or(types.UnknownID),
			Title:  d.Title.Or(types.UnknownTitle),
			Price:  d.PriceInfo.Price.Or(types.UnknownPrice),
			Image:  d.PicInfo.PicURL.Or(""),
			Status: catalogStatus(d.ItemStatus),
		})
	}
	return items
}

func catalogStatus(code mtop.Opt) string {
	n, ok := code.Int()
	switch {
	case ok && n == 0:
		return StatusOnSale
	case ok && n == 1:
		return StatusSold
	default:
		return fmt.Sprintf("unknown (%s)", code.Or("none"))
	}
}

type rateCard struct {
	CardData struct {
		RateTagList []struct {
			Text mtop.Opt `json:"text"`
		} `json:"rateTagList"`
		Rate          mtop.Opt `json:"rate"`
		RateID        mtop.Opt `json:"rateId"`
		Feedback      mtop.Opt `json:"feedback"`
		RaterUserNick mtop.Opt `json:"raterUserNick"`
		GmtCreate     mtop.Opt `json:"gmtCreate"`
		PictCdnURLs   []string `json:"pictCdnUrlList"`
	} `json:"cardData"`
}

func parseRatings(cards []json.RawMessage, log *zap.Logger) []types.Rating {
	ratings := make([]types.Rating, 0, len(cards))
	for _, raw := range cards {
		var c rateCard
		if err := json.Unmarshal(raw, &c); err != nil {
			log.Debug("skipping malformed rating card", zap.Error(err))
			continue
		}
		d := c.CardData
		tag := types.UnknownRaterTag
		if len(d.RateTagList) > 0 {
			tag = d.RateTagList[0].Text.Or(types.UnknownRaterTag)
		}
		code, ok := d.Rate.Int()
		ratings = append(ratings, types.Rating{
			ID:        d.RateID.Or(types.UnknownID),
			Feedback:  d.Feedback.Or(""),
			Polarity:  types.PolarityFromCode(code, ok),
			Role:      RoleFromTag(tag),
			RoleText:  tag,
			RaterName: d.RaterUserNick.Or(types.NotAvailable),
			Time:      d.GmtCreate.Or(types.UnknownTime),
			Images:    d.PictCdnURLs,
		})
	}
	return ratings
}
