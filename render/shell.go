package render

import (
	"fmt"
	"html"
)

// shellCSP denies everything except inline styling and data: images. With
// this policy in force the document can draw itself and nothing else: no
// scripts, no network fetches, no frames, no forms.
const shellCSP = "default-src 'none'; style-src 'unsafe-inline'; img-src data:"

const shellCSS = `body{margin:0;padding:16px;font:16px/1.5 system-ui,sans-serif}
.preview-light{background:#fff;color:#1a1a1a}
.preview-dark{background:#1e1e1e;color:#ddd}
.preview pre{background:rgba(127,127,127,.12);padding:8px;overflow-x:auto}
.preview table{border-collapse:collapse}
.preview th,.preview td{border:1px solid rgba(127,127,127,.4);padding:4px 8px}
.preview .component{border-left:3px solid rgba(127,127,127,.5);padding-left:8px;margin:8px 0}`

// Shell wraps a rendered document in a complete standalone page carrying
// the deny-all content policy. This is what an embedding host loads into
// its sandboxed frame or headless browser page.
func Shell(doc Doc, theme string) string {
	return fmt.Sprintf(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="Content-Security-Policy" content="%s">
<style>%s</style>
</head>
<body class="theme-%s">
%s
</body>
</html>`, shellCSP, shellCSS, html.EscapeString(themeClass(theme)), doc.HTML)
}
