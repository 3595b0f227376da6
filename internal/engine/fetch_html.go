package engine

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// minArticleChars is the shortest readability result trusted over goquery.
const minArticleChars = 200

// extractHTML pulls the main text out of an HTML page: readability rendered to
// markdown, then goquery over content containers, then regex tag stripping.
func extractHTML(body []byte, pageURL *url.URL) (title, content string) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		title = strings.TrimSpace(article.Title)
		text := ""
		if md, mdErr := htmltomarkdown.ConvertString(article.Content); mdErr == nil {
			text = strings.TrimSpace(md)
		}
		if text == "" {
			text = strings.TrimSpace(article.TextContent)
		}
		if len(text) >= minArticleChars {
			return title, text
		}
	}

	if t, c, ok := extractWithGoquery(body); ok {
		if title == "" {
			title = t
		}
		return title, c
	}

	t, c := extractWithRegex(string(body))
	if title == "" {
		title = t
	}
	return title, c
}

// extractWithGoquery uses goquery for structured HTML parsing when readability fails.
func extractWithGoquery(body []byte) (title, content string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", false
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find("meta[property='og:title']").First().Attr("content")
	}

	removeSelectors := []string{
		"script", "style", "noscript", "iframe", "svg",
		"header", "footer", "nav", "aside", "form",
		".advertisement", ".ad", ".sidebar", ".comments",
		"[role=navigation]", "[role=banner]", "[role=contentinfo]",
	}
	doc.Find(strings.Join(removeSelectors, ", ")).Remove()

	contentSel := doc.Find("article, main, .content, .post-content, .article-content, #content").First()
	if contentSel.Length() == 0 {
		contentSel = doc.Find("body")
	}

	// One block per paragraph-level element keeps paragraph breaks for the splitter.
	var blocks []string
	contentSel.Find("h1, h2, h3, h4, p, li, pre, blockquote, td").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		if txt := collapseSpaces(s.Text()); txt != "" {
			blocks = append(blocks, txt)
		}
	})
	if len(blocks) == 0 {
		if txt := collapseSpaces(contentSel.Text()); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	content = strings.Join(blocks, "\n\n")
	return title, content, content != ""
}

var (
	titleRe     = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	ogTitleRe   = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']+)["']`)
	noiseTagsRe = regexp.MustCompile(`(?is)<(script|style|noscript|title|header|footer|nav|aside|iframe)[^>]*>.*?</(?:script|style|noscript|title|header|footer|nav|aside|iframe)>`)
	blockTagRe  = regexp.MustCompile(`(?i)</?(p|div|br|li|h[1-6]|tr|section|article)[^>]*>`)
	spaceRunRe  = regexp.MustCompile(`[ \t\r\f\v]+`)
)

// extractWithRegex is the last resort when the HTML cannot be parsed.
func extractWithRegex(html string) (title, content string) {
	if m := titleRe.FindStringSubmatch(html); len(m) > 1 {
		title = strings.TrimSpace(m[1])
	}
	if title == "" {
		if m := ogTitleRe.FindStringSubmatch(html); len(m) > 1 {
			title = strings.TrimSpace(m[1])
		}
	}

	html = noiseTagsRe.ReplaceAllString(html, "")
	html = blockTagRe.ReplaceAllString(html, "\n\n")
	text := htmlTagRe.ReplaceAllString(html, "")
	return title, strings.Join(SplitBlocks(spaceRunRe.ReplaceAllString(text, " ")), "\n\n")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
