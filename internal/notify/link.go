package notify

import (
	"net/url"
)

const mobileShareBase = "https://pages.goofish.com/sharexy?loadingVisible=false&bft=item&bfs=idlepc.item&spm=a21ybx.item.0.0&bfp="

// MobileLink converts a desktop item link into the mobile share link. Links
// without an id parameter are returned unchanged.
func MobileLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	id := u.Query().Get("id")
	if id == "" {
		return link
	}
	return mobileShareBase + url.QueryEscape(`{"id":`+id+`}`)
}
