package manifest

import (
	"encoding/json"
	"testing"
)

const v3Manifest = `{
  "@context": "http://iiif.io/api/presentation/3/context.json",
  "id": "https://gallica.bnf.fr/iiif/ark:/12148/btv1b84260335/manifest.json",
  "type": "Manifest",
  "label": {"fr": ["Grandes Chroniques de France"]},
  "metadata": [
    {"label": {"en": ["Creator"]}, "value": {"en": ["Jean Fouquet"]}},
    {"label": {"en": ["Date"]}, "value": {"en": ["1455-1460"]}},
    {"label": {"en": ["Language"]}, "value": {"en": ["fre"]}}
  ],
  "items": [
    {
      "id": "https://example.org/canvas/1",
      "type": "Canvas",
      "label": {"none": ["f. 1r"]},
      "items": [
        {
          "type": "AnnotationPage",
          "items": [
            {
              "type": "Annotation",
              "body": {
                "id": "https://gallica.bnf.fr/iiif/ark:/12148/btv1b84260335/f1/full/full/0/default.jpg",
                "type": "Image"
              }
            }
          ]
        }
      ]
    },
    {"id": "https://example.org/canvas/2", "type": "Canvas"}
  ]
}`

const v2Manifest = `{
  "@context": "http://iiif.io/api/presentation/2/context.json",
  "@id": "https://digi.vatlib.it/iiif/MSS_Urb.lat.1779/manifest.json",
  "@type": "sc:Manifest",
  "label": "Urb.lat.1779",
  "metadata": [
    {"label": "Author", "value": "Anonymous"},
    {"label": "Date", "value": "XV sec."}
  ],
  "sequences": [
    {
      "canvases": [
        {
          "label": "1r",
          "images": [
            {
              "resource": {
                "@id": "https://digi.vatlib.it/iiifimage/MSS_Urb.lat.1779/f1.jp2/full/full/0/default.jpg"
              }
            }
          ]
        },
        {"label": "1v", "images": []},
        {
          "label": "2r",
          "images": [
            {
              "resource": {
                "@id": "https://digi.vatlib.it/iiifimage/MSS_Urb.lat.1779/f2.jp2/full/full/0/default.jpg"
              }
            }
          ]
        }
      ]
    }
  ]
}`

func mustDecode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("fixture does not parse: %v", err)
	}
	return doc
}

func TestParseManifestV3(t *testing.T) {
	doc := mustDecode(t, v3Manifest)
	rec := ParseManifest(doc, "https://gallica.bnf.fr/iiif/ark:/12148/btv1b84260335/manifest.json", "Gallica", "btv1b84260335")

	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Title != "Grandes Chroniques de France" {
		t.Errorf("title = %q", rec.Title)
	}
	if rec.Author != "Jean Fouquet" {
		t.Errorf("author = %q", rec.Author)
	}
	if rec.Date != "1455-1460" {
		t.Errorf("date = %q", rec.Date)
	}
	if rec.Language != "fre" {
		t.Errorf("language = %q", rec.Language)
	}
	if rec.PageCount != 2 {
		t.Errorf("page count = %d, want 2", rec.PageCount)
	}
	if rec.Thumbnail == "" {
		t.Error("expected thumbnail from annotation body")
	}
}

func TestParseManifestV2(t *testing.T) {
	doc := mustDecode(t, v2Manifest)
	rec := ParseManifest(doc, "https://digi.vatlib.it/iiif/MSS_Urb.lat.1779/manifest.json", "Vaticana", "MSS_Urb.lat.1779")

	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Title != "Urb.lat.1779" {
		t.Errorf("title = %q", rec.Title)
	}
	if rec.Author != "Anonymous" {
		t.Errorf("author = %q", rec.Author)
	}
	if rec.PageCount != 3 {
		t.Errorf("page count = %d, want 3", rec.PageCount)
	}
}

func TestMetadataMapLowercasesKeys(t *testing.T) {
	doc := mustDecode(t, v2Manifest)
	meta := MetadataMap(doc["metadata"])

	if meta["author"] != "Anonymous" {
		t.Errorf(`meta["author"] = %q`, meta["author"])
	}
	if meta["date"] != "XV sec." {
		t.Errorf(`meta["date"] = %q`, meta["date"])
	}
	if _, ok := meta["Author"]; ok {
		t.Error("keys should be lower-cased")
	}
}

func TestCanvasesV3(t *testing.T) {
	doc := mustDecode(t, v3Manifest)
	canvases := Canvases(doc)

	if len(canvases) != 2 {
		t.Fatalf("got %d canvases, want 2", len(canvases))
	}
	if canvases[0].ImageURL == "" {
		t.Error("first canvas should have an image URL")
	}
	if canvases[0].Label != "f. 1r" {
		t.Errorf("label = %q", canvases[0].Label)
	}
	// Second canvas has no annotations; index must still be aligned
	if canvases[1].Index != 1 || canvases[1].ImageURL != "" {
		t.Errorf("got %+v", canvases[1])
	}
}

func TestCanvasesV2(t *testing.T) {
	doc := mustDecode(t, v2Manifest)
	canvases := Canvases(doc)

	if len(canvases) != 3 {
		t.Fatalf("got %d canvases, want 3", len(canvases))
	}
	if canvases[0].ImageURL == "" || canvases[2].ImageURL == "" {
		t.Error("canvases with images should carry URLs")
	}
	if canvases[1].ImageURL != "" {
		t.Error("canvas without images should have an empty URL")
	}
}

func TestThumbnailFallbackHeuristics(t *testing.T) {
	bare := map[string]interface{}{"label": "x"}

	got := extractThumbnail(bare, "https://iiif.bodleian.ox.ac.uk/iiif/manifest/abc.json", "abc")
	if got != "https://iiif.bodleian.ox.ac.uk/iiif/thumbnail/abc.jpg" {
		t.Errorf("bodleian heuristic = %q", got)
	}

	got = extractThumbnail(bare, "https://digi.vatlib.it/iiif/MSS_X/manifest.json", "MSS_X")
	if got != "https://digi.vatlib.it/iiif/MSS_X/full/!200,200/0/default.jpg" {
		t.Errorf("vatlib heuristic = %q", got)
	}

	got = extractThumbnail(bare, "https://example.org/manifest.json", "")
	if got != "" {
		t.Errorf("expected empty thumbnail, got %q", got)
	}
}

func TestThumbnailManifestLevelWins(t *testing.T) {
	doc := map[string]interface{}{
		"thumbnail": []interface{}{
			map[string]interface{}{"id": "https://example.org/thumb.jpg"},
		},
	}
	got := extractThumbnail(doc, "https://digi.vatlib.it/iiif/MSS_X/manifest.json", "MSS_X")
	if got != "https://example.org/thumb.jpg" {
		t.Errorf("got %q", got)
	}
}

func TestImageURLAt(t *testing.T) {
	base := "https://gallica.bnf.fr/iiif/ark:/12148/btv1b84260335/f1/full/full/0/default.jpg"

	if got := ImageURLAt(base, "full"); got != base {
		t.Errorf("full quality should be unchanged, got %q", got)
	}
	want := "https://gallica.bnf.fr/iiif/ark:/12148/btv1b84260335/f1/full/2000,/0/default.jpg"
	if got := ImageURLAt(base, "2000,"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := ImageURLAt("https://example.org/plain.jpg", "2000,"); got != "https://example.org/plain.jpg" {
		t.Errorf("non Image-API URL should pass through, got %q", got)
	}
}
