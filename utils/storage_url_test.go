package utils_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
)

func TestBuildObjectAccessURL(t *testing.T) {
	key := "organizations/org-1/audits/7/photo.jpg"

	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.example.com/files")
	if got, want := utils.BuildObjectAccessURL(key), "https://cdn.example.com/files/"+key; got != want {
		t.Errorf("base url join = %q, want %q", got, want)
	}

	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.example.com/get?key={objectKey}")
	if got, want := utils.BuildObjectAccessURL(key), "https://cdn.example.com/get?key=organizations%2Forg-1%2Faudits%2F7%2Fphoto.jpg"; got != want {
		t.Errorf("templated url = %q, want %q", got, want)
	}

	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_URL", "storage.googleapis.com")
	t.Setenv("GCS_BUCKET", "assetdesk-media")
	if got, want := utils.BuildObjectAccessURL(key), "https://storage.googleapis.com/assetdesk-media/"+key; got != want {
		t.Errorf("gcs url = %q, want %q", got, want)
	}

	// With no storage env at all the key itself comes back.
	t.Setenv("GCS_URL", "")
	t.Setenv("GCS_BUCKET", "")
	if got := utils.BuildObjectAccessURL(key); got != key {
		t.Errorf("fallback = %q, want raw key", got)
	}
}

func TestExtractObjectKeyFromURL(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_URL", "")
	t.Setenv("GCS_BUCKET", "")
	key := "organizations/org-1/audits/7/photo.jpg"

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"raw key", key, key},
		{"gs scheme", "gs://assetdesk-media/" + key, key},
		{"googleapis host", "https://storage.googleapis.com/assetdesk-media/" + key, key},
		{"cloud google host", "https://storage.cloud.google.com/assetdesk-media/" + key, key},
		{"key query param", "https://cdn.example.com/get?key=organizations%2Forg-1%2Faudits%2F7%2Fphoto.jpg", key},
		{"empty", "", ""},
		{"traversal rejected", "organizations/../secrets", ""},
		{"bucket only gs", "gs://assetdesk-media", ""},
	}
	for _, tc := range cases {
		if got := utils.ExtractObjectKeyFromURL(tc.in); got != tc.want {
			t.Errorf("%s: ExtractObjectKeyFromURL(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}

	// Round trip through every build mode.
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.example.com/files")
	if got := utils.ExtractObjectKeyFromURL(utils.BuildObjectAccessURL(key)); got != "files/"+key {
		// Arbitrary CDN paths keep their prefix; only the known hosts and
		// query forms strip down to the bare key.
		t.Errorf("cdn round trip = %q", got)
	}
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_URL", "storage.googleapis.com")
	t.Setenv("GCS_BUCKET", "assetdesk-media")
	if got := utils.ExtractObjectKeyFromURL(utils.BuildObjectAccessURL(key)); got != key {
		t.Errorf("gcs round trip = %q, want %q", got, key)
	}
}
