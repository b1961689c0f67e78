// Package content downloads drive item content through Microsoft Graph and
// caches it against the item's quickXorHash.
package content

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidItemRef is returned for references that name no item.
var ErrInvalidItemRef = errors.New("invalid drive item reference")

// ItemRef identifies a drive item either by ids or by its absolute URL.
type ItemRef struct {
	DriveID string
	ItemID  string

	// AbsoluteURL is the https URL of the file, e.g. a SharePoint document
	// link. Used when DriveID and ItemID are empty.
	AbsoluteURL string
}

// APIPath returns the Graph path of the item, without the /content or
// /file suffixes.
func (r ItemRef) APIPath() (string, error) {
	if r.DriveID != "" && r.ItemID != "" {
		return "/v1.0/drives/" + r.DriveID + "/items/" + r.ItemID, nil
	}
	if r.AbsoluteURL != "" {
		return SharesAPIPath(r.AbsoluteURL)
	}
	return "", ErrInvalidItemRef
}

func (r ItemRef) String() string {
	if r.AbsoluteURL != "" && (r.DriveID == "" || r.ItemID == "") {
		return r.AbsoluteURL
	}
	return r.DriveID + "/" + r.ItemID
}

// SharesAPIPath encodes an absolute file URL as a Graph sharing id and
// returns "/v1.0/shares/u!{id}/driveItem".
func SharesAPIPath(absoluteURL string) (string, error) {
	if !strings.HasPrefix(absoluteURL, "https://") {
		return "", fmt.Errorf("%w: url must start with https:// (got %q)", ErrInvalidItemRef, absoluteURL)
	}
	encoded := absoluteURL
	if decoded, err := url.PathUnescape(absoluteURL); err != nil || decoded == absoluteURL {
		encoded = encodeURI(absoluteURL)
	}
	return "/v1.0/shares/u!" + base64.RawURLEncoding.EncodeToString([]byte(encoded)) + "/driveItem", nil
}

// encodeURI escapes everything except unreserved and reserved URI
// characters.
func encodeURI(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURIChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func isURIChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(";,/?:@&=+$-_.!~*'()#", c) >= 0
}
