package browser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"
)

const xpathPrefix = "xpath="

// Selector is a parsed element locator. "xpath=..." selects by XPath,
// anything else is a CSS selector.
type Selector struct {
	Expr  string
	XPath bool
}

// ParseSelector parses the selector syntax used in workflow files.
func ParseSelector(raw string) Selector {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, xpathPrefix) {
		return Selector{Expr: strings.TrimSpace(strings.TrimPrefix(raw, xpathPrefix)), XPath: true}
	}
	return Selector{Expr: raw}
}

// queryOption returns the chromedp query option matching the selector kind.
func (s Selector) queryOption() chromedp.QueryOption {
	if s.XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// jsAll returns a JS expression evaluating to an array of matching elements.
func (s Selector) jsAll() string {
	quoted := strconv.Quote(s.Expr)
	if s.XPath {
		return fmt.Sprintf(`(() => { const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null); const out = []; for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i)); return out; })()`, quoted)
	}
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s))`, quoted)
}

// jsClickNth returns a JS expression that clicks the n-th match and reports
// whether an element was found.
func (s Selector) jsClickNth(index int) string {
	return fmt.Sprintf(`(() => { const els = %s; const el = els[%d]; if (!el) return false; el.scrollIntoView({block: "center"}); el.click(); return true; })()`, s.jsAll(), index)
}

func (s Selector) String() string {
	if s.XPath {
		return xpathPrefix + s.Expr
	}
	return s.Expr
}
