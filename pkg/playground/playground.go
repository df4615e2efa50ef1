// Package playground hosts the interactive console pages served on GET
// requests: GraphQL Playground and GraphiQL.
package playground

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"
)

// IDE selects which console page a handler serves.
type IDE string

const (
	IDEPlayground IDE = "playground"
	IDEGraphiQL   IDE = "graphiql"
)

const (
	contentTypeHeader   = "Content-Type"
	contentTypeTextHTML = "text/html; charset=utf-8"
)

// Config is the configuration object to instruct NewHandler on which
// console to serve and how to initialize it.
type Config struct {
	IDE IDE
	// PlaygroundOptions is serialized into the Playground init call.
	// Ignored by GraphiQL.
	PlaygroundOptions map[string]interface{}
}

// NewHandler builds a stateless request handler serving the configured
// console page.
func NewHandler(config Config) (http.Handler, error) {
	switch config.IDE {
	case IDEGraphiQL:
		return staticPage(graphiqlHTML), nil
	case IDEPlayground, "":
		optionsJSON, err := json.Marshal(config.PlaygroundOptions)
		if err != nil {
			return nil, err
		}
		if config.PlaygroundOptions == nil {
			optionsJSON = []byte("{}")
		}

		templates, err := template.New("playground").Parse(playgroundHTML)
		if err != nil {
			return nil, err
		}

		buf := &bytes.Buffer{}
		if err := templates.Execute(buf, playgroundTemplateData{
			Options: template.JS(optionsJSON),
		}); err != nil {
			return nil, err
		}

		return staticPage(buf.String()), nil
	default:
		return nil, ErrUnknownIDE(config.IDE)
	}
}

// ErrUnknownIDE reports a Config naming a console this package does not ship.
type ErrUnknownIDE string

func (e ErrUnknownIDE) Error() string {
	return "unknown IDE: " + string(e)
}

type playgroundTemplateData struct {
	Options template.JS
}

func staticPage(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add(contentTypeHeader, contentTypeTextHTML)
		_, _ = w.Write([]byte(body))
	})
}
