package web

import (
	"github.com/aymerick/raymond"
)

var pageTemplate = raymond.MustParse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{title}}</title>
{{#if stylesheet}}<style>{{{stylesheet}}}</style>{{/if}}
</head>
<body>
{{#if error}}<p class="error" role="alert">{{error}}</p>{{/if}}
{{#if turn}}
<form method="post" action="/sessions/{{session}}">
{{{turn}}}
</form>
{{else}}
<p class="ended">The end.</p>
<p><a href="/">Back to the library</a></p>
{{/if}}
</body>
</html>
`)

var indexTemplate = raymond.MustParse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Library</title>
</head>
<body>
<h1>Library</h1>
<ul>
{{#each stories}}
<li><form method="post" action="/stories/{{this}}/sessions"><button type="submit">{{this}}</button></form></li>
{{else}}
<li>No stories yet.</li>
{{/each}}
</ul>
</body>
</html>
`)

type page struct {
	Title      string
	Stylesheet string
	Session    string
	Turn       string
	Error      string
}

func (p page) render() (string, error) {
	return pageTemplate.Exec(map[string]interface{}{
		"title":      p.Title,
		"stylesheet": p.Stylesheet,
		"session":    p.Session,
		"turn":       p.Turn,
		"error":      p.Error,
	})
}

func renderIndex(stories []string) (string, error) {
	return indexTemplate.Exec(map[string]interface{}{
		"stories": stories,
	})
}
