package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharesAPIPath(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "unencoded url",
			url:  "https://test.sharepoint.com/sites/test-sites/shared documents/Test File.aspx",
			want: "/v1.0/shares/u!aHR0cHM6Ly90ZXN0LnNoYXJlcG9pbnQuY29tL3NpdGVzL3Rlc3Qtc2l0ZXMvc2hhcmVkJTIwZG9jdW1lbnRzL1Rlc3QlMjBGaWxlLmFzcHg/driveItem",
		},
		{
			name: "already encoded url is not encoded twice",
			url:  "https://test.sharepoint.com/sites/test-sites/shared%20documents/Test%20File.aspx",
			want: "/v1.0/shares/u!aHR0cHM6Ly90ZXN0LnNoYXJlcG9pbnQuY29tL3NpdGVzL3Rlc3Qtc2l0ZXMvc2hhcmVkJTIwZG9jdW1lbnRzL1Rlc3QlMjBGaWxlLmFzcHg/driveItem",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SharesAPIPath(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SharesAPIPath("http://insecure.example.com/file.txt")
	assert.ErrorIs(t, err, ErrInvalidItemRef)
}

func TestItemRef_APIPath(t *testing.T) {
	path, err := ItemRef{DriveID: "test-drive-id", ItemID: "test-item-id"}.APIPath()
	require.NoError(t, err)
	assert.Equal(t, "/v1.0/drives/test-drive-id/items/test-item-id", path)

	path, err = ItemRef{AbsoluteURL: "https://contoso.sharepoint.com/a.txt"}.APIPath()
	require.NoError(t, err)
	assert.Contains(t, path, "/v1.0/shares/u!")

	_, err = ItemRef{DriveID: "only-drive"}.APIPath()
	assert.ErrorIs(t, err, ErrInvalidItemRef)
}

func TestEncodeURI(t *testing.T) {
	assert.Equal(t, "https://x.com/a%20b/%C3%A4?q=1&r=(2)#f", encodeURI("https://x.com/a b/ä?q=1&r=(2)#f"))
}
