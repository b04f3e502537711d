package widget

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/storyslip/storyslip-server/domain/branding"
	"github.com/storyslip/storyslip-server/domain/content"
)

// TrustedHTML marks markup that is safe to emit without escaping. Anything
// else appended to the output goes through escape first; the builder below
// only accepts TrustedHTML, so a missing escape fails to compile.
type TrustedHTML string

// escape is the single escape routine applied at every interpolation
// point. html.EscapeString covers quotes, so escaped values are safe in
// both text nodes and attribute values.
func escape(s string) TrustedHTML {
	return TrustedHTML(html.EscapeString(s))
}

// textPolicy strips every tag, leaving plain text. Used to derive excerpts
// and metadata values from author-supplied rich HTML bodies.
var textPolicy = bluemonday.StrictPolicy()

func plainText(s string) string {
	return strings.TrimSpace(textPolicy.Sanitize(s))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

type htmlBuilder struct {
	sb strings.Builder
}

func (b *htmlBuilder) raw(t TrustedHTML) {
	b.sb.WriteString(string(t))
}

func (b *htmlBuilder) text(s string) {
	b.raw(escape(s))
}

func (b *htmlBuilder) String() string {
	return b.sb.String()
}

// ContentPage is the slice of content handed to the renderer, along with
// the pagination coordinates it was fetched at.
type ContentPage struct {
	Items   []content.Item
	Total   int
	Page    int
	PerPage int
}

func (p ContentPage) TotalPages() int {
	return content.TotalPages(p.Total, p.PerPage)
}

// RenderResult is the pure output of one render: markup, stylesheet,
// client script, and SEO metadata. No I/O happens here.
type RenderResult struct {
	HTML     string
	CSS      string
	JS       string
	Metadata Metadata
}

// Render produces the widget's embeddable output for one page of content.
func Render(w *Widget, page ContentPage, b *branding.Branding) RenderResult {
	if b == nil {
		b = branding.Default(w.WebsiteID)
	}
	return RenderResult{
		HTML:     renderHTML(w, page, b),
		CSS:      renderCSS(w, b),
		JS:       renderJS(w),
		Metadata: renderMetadata(w, page),
	}
}

func renderHTML(w *Widget, page ContentPage, b *branding.Branding) string {
	layout := w.EffectiveLayout()
	theme := w.EffectiveTheme()

	hb := &htmlBuilder{}
	hb.raw(`<div class="storyslip-widget storyslip-layout-`)
	hb.text(layout)
	hb.raw(` storyslip-theme-`)
	hb.text(theme)
	hb.raw(`" data-widget-id="`)
	hb.text(w.ID)
	hb.raw(`">`)

	if w.Title != "" {
		hb.raw(`<h2 class="storyslip-title">`)
		hb.text(w.Title)
		hb.raw(`</h2>`)
	}

	if len(page.Items) == 0 {
		hb.raw(`<p class="storyslip-empty">No content found.</p>`)
	} else {
		switch layout {
		case LayoutCarousel:
			hb.raw(`<div class="storyslip-carousel"><div class="storyslip-track">`)
			for _, item := range page.Items {
				renderItem(hb, w, item)
			}
			hb.raw(`</div>`)
			hb.raw(`<button class="storyslip-prev" type="button" aria-label="Previous">&#8249;</button>`)
			hb.raw(`<button class="storyslip-next" type="button" aria-label="Next">&#8250;</button>`)
			hb.raw(`</div>`)
		case LayoutList:
			hb.raw(`<div class="storyslip-list">`)
			for _, item := range page.Items {
				renderItem(hb, w, item)
			}
			hb.raw(`</div>`)
		default:
			hb.raw(`<div class="storyslip-grid">`)
			for _, item := range page.Items {
				renderItem(hb, w, item)
			}
			hb.raw(`</div>`)
		}
	}

	renderPagination(hb, page)

	if !w.HideAttribution {
		hb.raw(`<div class="storyslip-attribution"><a href="https://storyslip.com" target="_blank" rel="noopener">Powered by StorySlip</a></div>`)
	}

	hb.raw(`</div>`)
	return hb.String()
}

func renderItem(hb *htmlBuilder, w *Widget, item content.Item) {
	s := w.Settings

	hb.raw(`<article class="storyslip-item" data-slug="`)
	hb.text(item.Slug)
	hb.raw(`">`)

	if s.ShowImages && item.FeaturedImage != "" {
		hb.raw(`<div class="storyslip-image"><img src="`)
		hb.text(item.FeaturedImage)
		hb.raw(`" alt="`)
		hb.text(item.Title)
		hb.raw(`" loading="lazy"></div>`)
	}

	hb.raw(`<h3 class="storyslip-item-title"><a href="#" data-storyslip-slug="`)
	hb.text(item.Slug)
	hb.raw(`">`)
	hb.text(item.Title)
	hb.raw(`</a></h3>`)

	if s.ShowDates || s.ShowAuthors {
		hb.raw(`<div class="storyslip-meta">`)
		if s.ShowDates {
			hb.raw(`<time datetime="`)
			hb.text(item.PublishedAt.Format("2006-01-02"))
			hb.raw(`">`)
			hb.text(item.PublishedAt.Format("Jan 2, 2006"))
			hb.raw(`</time>`)
		}
		if s.ShowAuthors && item.AuthorName != "" {
			hb.raw(`<span class="storyslip-author">`)
			hb.text(item.AuthorName)
			hb.raw(`</span>`)
		}
		hb.raw(`</div>`)
	}

	if s.ShowExcerpts {
		excerpt := item.Excerpt
		if excerpt == "" {
			excerpt = truncate(plainText(item.Body), 200)
		}
		hb.raw(`<p class="storyslip-excerpt">`)
		hb.text(excerpt)
		hb.raw(`</p>`)
	}

	if s.ShowCategories && len(item.Categories) > 0 {
		hb.raw(`<div class="storyslip-categories">`)
		for _, c := range item.Categories {
			hb.raw(`<span class="storyslip-category">`)
			hb.text(c)
			hb.raw(`</span>`)
		}
		hb.raw(`</div>`)
	}

	if s.ShowTags && len(item.Tags) > 0 {
		hb.raw(`<div class="storyslip-tags">`)
		for _, t := range item.Tags {
			hb.raw(`<span class="storyslip-tag">`)
			hb.text(t)
			hb.raw(`</span>`)
		}
		hb.raw(`</div>`)
	}

	hb.raw(`</article>`)
}

// renderPagination emits page controls only when there is more than one
// page. The button range is a five-button window centered on the current
// page and clamped to [1, totalPages].
func renderPagination(hb *htmlBuilder, page ContentPage) {
	totalPages := page.TotalPages()
	if totalPages <= 1 {
		return
	}

	hb.raw(`<nav class="storyslip-pagination" data-total-pages="`)
	hb.text(fmt.Sprintf("%d", totalPages))
	hb.raw(`">`)

	if page.Page > 1 {
		hb.raw(`<button type="button" class="storyslip-page-prev" data-page="`)
		hb.text(fmt.Sprintf("%d", page.Page-1))
		hb.raw(`">&laquo;</button>`)
	}

	for _, p := range pageWindow(page.Page, totalPages) {
		current := ""
		if p == page.Page {
			current = ` storyslip-page-current`
		}
		hb.raw(TrustedHTML(`<button type="button" class="storyslip-page` + current + `" data-page="`))
		hb.text(fmt.Sprintf("%d", p))
		hb.raw(`">`)
		hb.text(fmt.Sprintf("%d", p))
		hb.raw(`</button>`)
	}

	if page.Page < totalPages {
		hb.raw(`<button type="button" class="storyslip-page-next" data-page="`)
		hb.text(fmt.Sprintf("%d", page.Page+1))
		hb.raw(`">&raquo;</button>`)
	}

	hb.raw(`</nav>`)
}

// pageWindow returns up to five page numbers centered on current and
// clamped to [1, total].
func pageWindow(current, total int) []int {
	start := current - 2
	end := current + 2

	if start < 1 {
		end += 1 - start
		start = 1
	}
	if end > total {
		start -= end - total
		end = total
	}
	if start < 1 {
		start = 1
	}

	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages
}

func renderCSS(w *Widget, b *branding.Branding) string {
	defaults := branding.Default(w.WebsiteID)
	var sb strings.Builder

	fmt.Fprintf(&sb, `.storyslip-widget{--ss-primary:%s;--ss-secondary:%s;--ss-accent:%s;--ss-text:%s;--ss-bg:%s;font-family:%s;color:var(--ss-text);background:var(--ss-bg);box-sizing:border-box}`,
		orDefault(b.PrimaryColor, defaults.PrimaryColor),
		orDefault(b.SecondaryColor, defaults.SecondaryColor),
		orDefault(b.AccentColor, defaults.AccentColor),
		orDefault(b.TextColor, defaults.TextColor),
		orDefault(b.BackgroundColor, defaults.BackgroundColor),
		orDefault(b.FontFamily, defaults.FontFamily),
	)
	sb.WriteString(`.storyslip-widget *{box-sizing:inherit}`)
	fmt.Fprintf(&sb, `.storyslip-title,.storyslip-item-title{font-family:%s}`,
		orDefault(b.HeadingFont, defaults.HeadingFont))
	sb.WriteString(`.storyslip-item-title a{color:var(--ss-primary);text-decoration:none}`)
	sb.WriteString(`.storyslip-meta{font-size:.85em;color:var(--ss-secondary);display:flex;gap:.75em}`)
	sb.WriteString(`.storyslip-category,.storyslip-tag{display:inline-block;font-size:.75em;padding:.15em .6em;border-radius:999px;margin-right:.35em}`)
	sb.WriteString(`.storyslip-category{background:var(--ss-primary);color:#fff}`)
	sb.WriteString(`.storyslip-tag{background:var(--ss-secondary);color:#fff}`)
	sb.WriteString(`.storyslip-image img{width:100%;height:auto;display:block;border-radius:6px}`)
	sb.WriteString(`.storyslip-empty{color:var(--ss-secondary);text-align:center;padding:2em 0}`)
	sb.WriteString(`.storyslip-pagination{display:flex;gap:.4em;justify-content:center;margin-top:1.25em}`)
	sb.WriteString(`.storyslip-pagination button{border:1px solid var(--ss-secondary);background:transparent;color:var(--ss-text);padding:.35em .8em;border-radius:4px;cursor:pointer}`)
	sb.WriteString(`.storyslip-page-current{background:var(--ss-primary)!important;border-color:var(--ss-primary)!important;color:#fff!important}`)
	sb.WriteString(`.storyslip-attribution{margin-top:1em;font-size:.7em;text-align:right}`)
	sb.WriteString(`.storyslip-attribution a{color:var(--ss-secondary);text-decoration:none}`)

	switch w.EffectiveLayout() {
	case LayoutList:
		sb.WriteString(`.storyslip-list{display:flex;flex-direction:column;gap:1.25em}`)
		sb.WriteString(`.storyslip-list .storyslip-item{display:flex;flex-direction:column;gap:.4em;border-bottom:1px solid rgba(0,0,0,.08);padding-bottom:1.25em}`)
	case LayoutCarousel:
		sb.WriteString(`.storyslip-carousel{position:relative;overflow:hidden}`)
		sb.WriteString(`.storyslip-track{display:flex;gap:1em;transition:transform .3s ease;will-change:transform}`)
		sb.WriteString(`.storyslip-track .storyslip-item{flex:0 0 280px}`)
		sb.WriteString(`.storyslip-prev,.storyslip-next{position:absolute;top:50%;transform:translateY(-50%);border:none;background:var(--ss-primary);color:#fff;width:2em;height:2em;border-radius:50%;cursor:pointer}`)
		sb.WriteString(`.storyslip-prev{left:.25em}.storyslip-next{right:.25em}`)
	default:
		sb.WriteString(`.storyslip-grid{display:grid;grid-template-columns:repeat(auto-fill,minmax(240px,1fr));gap:1.25em}`)
		sb.WriteString(`.storyslip-grid .storyslip-item{display:flex;flex-direction:column;gap:.4em}`)
	}

	switch w.EffectiveTheme() {
	case ThemeMinimal:
		sb.WriteString(`.storyslip-widget{line-height:1.7}`)
		sb.WriteString(`.storyslip-item{border:none;box-shadow:none}`)
		sb.WriteString(`.storyslip-category,.storyslip-tag{background:transparent;color:var(--ss-secondary);border:1px solid var(--ss-secondary)}`)
	case ThemeClassic:
		sb.WriteString(`.storyslip-widget{line-height:1.6}`)
		sb.WriteString(`.storyslip-item{border:1px solid rgba(0,0,0,.12);padding:1em;background:#fff}`)
		sb.WriteString(`.storyslip-item-title{font-weight:700;text-transform:none}`)
		sb.WriteString(`.storyslip-item-title a{color:var(--ss-text)}`)
	default:
		sb.WriteString(`.storyslip-widget{line-height:1.6}`)
		sb.WriteString(`.storyslip-item{border-radius:8px;box-shadow:0 1px 3px rgba(0,0,0,.1);padding:1em;background:#fff}`)
		sb.WriteString(`.storyslip-item:hover{box-shadow:0 4px 12px rgba(0,0,0,.15)}`)
	}

	// Admin-authored custom CSS is trusted and appended verbatim. It must
	// never be sourced from content-item fields.
	if b.CustomCSS != "" {
		sb.WriteString("\n")
		sb.WriteString(b.CustomCSS)
	}

	return sb.String()
}

// renderJS emits the client-side driver for pagination and search
// re-fetches. It embeds only the widget ID and the serialized settings,
// never content; json.Marshal escapes angle brackets so the payload cannot
// break out of a script tag.
func renderJS(w *Widget) string {
	settings, err := json.Marshal(w.Settings)
	if err != nil {
		settings = []byte("{}")
	}
	widgetID, _ := json.Marshal(w.ID)

	var sb strings.Builder
	sb.WriteString("(function(){\n")
	fmt.Fprintf(&sb, "var widgetId=%s;\n", widgetID)
	fmt.Fprintf(&sb, "var settings=%s;\n", settings)
	sb.WriteString(`var root=document.querySelector('[data-widget-id="'+widgetId+'"]');
if(!root)return;
function refetch(params){
  var qs=new URLSearchParams(params).toString();
  fetch('/widgets/public/'+encodeURIComponent(widgetId)+'/render?'+qs)
    .then(function(r){return r.json()})
    .then(function(body){
      if(!body.success)return;
      var doc=new DOMParser().parseFromString(body.data.html,'text/html');
      var next=doc.querySelector('[data-widget-id]');
      if(next){root.replaceWith(next);root=next;bind();}
    })
    .catch(function(){});
}
function bind(){
  root.querySelectorAll('.storyslip-pagination button').forEach(function(btn){
    btn.addEventListener('click',function(){refetch({page:btn.getAttribute('data-page')})});
  });
  var prev=root.querySelector('.storyslip-prev');
  var next=root.querySelector('.storyslip-next');
  var track=root.querySelector('.storyslip-track');
  var offset=0;
  if(prev&&next&&track){
    prev.addEventListener('click',function(){offset=Math.min(offset+296,0);track.style.transform='translateX('+offset+'px)'});
    next.addEventListener('click',function(){offset-=296;track.style.transform='translateX('+offset+'px)'});
  }
}
bind();
})();`)
	return sb.String()
}

func renderMetadata(w *Widget, page ContentPage) Metadata {
	title := w.Title
	if title == "" {
		title = w.Name
	}

	description := ""
	var image string
	if len(page.Items) > 0 {
		first := page.Items[0]
		description = first.Excerpt
		if description == "" {
			description = truncate(plainText(first.Body), 160)
		}
		image = first.FeaturedImage
	}

	og := map[string]string{
		"og:type":  "website",
		"og:title": title,
	}
	if description != "" {
		og["og:description"] = description
	}
	if image != "" {
		og["og:image"] = image
	}

	meta := Metadata{
		Title:       title,
		Description: description,
		OGTags:      og,
	}

	if len(page.Items) > 0 {
		meta.StructuredData = structuredData(title, page)
	}
	return meta
}

// structuredData builds a JSON-LD ItemList. Values stay plain text;
// json.Marshal's HTML escaping keeps the blob safe inside a script tag.
func structuredData(title string, page ContentPage) json.RawMessage {
	type listItem struct {
		Type     string `json:"@type"`
		Position int    `json:"position"`
		Name     string `json:"name"`
		URL      string `json:"url,omitempty"`
	}
	type itemList struct {
		Context  string     `json:"@context"`
		Type     string     `json:"@type"`
		Name     string     `json:"name"`
		Elements []listItem `json:"itemListElement"`
	}

	list := itemList{
		Context: "https://schema.org",
		Type:    "ItemList",
		Name:    title,
	}
	for i, item := range page.Items {
		list.Elements = append(list.Elements, listItem{
			Type:     "ListItem",
			Position: (page.Page-1)*page.PerPage + i + 1,
			Name:     plainText(item.Title),
			URL:      item.Slug,
		})
	}

	data, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return data
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
