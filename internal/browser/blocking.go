package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockedTypes maps configuration names to CDP resource types.
var blockedTypes = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"image":       proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"font":        proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"stylesheet":  proto.NetworkResourceTypeStylesheet,
}

// resourceSet turns configuration names into the set of CDP resource types
// to fail. Unknown names are ignored.
func resourceSet(names []string) map[proto.NetworkResourceType]bool {
	set := make(map[proto.NetworkResourceType]bool, len(names))
	for _, n := range names {
		if t, ok := blockedTypes[strings.ToLower(strings.TrimSpace(n))]; ok {
			set[t] = true
		}
	}
	return set
}

// blockResources fails requests for the configured resource types. The
// router lives as long as the page.
func blockResources(page *rod.Page, names []string) {
	set := resourceSet(names)
	if len(set) == 0 {
		return
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if set[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}
