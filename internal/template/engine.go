// Package template renders campaign content for individual contacts using
// the Liquid template language.
package template

import (
	"fmt"
	"html"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Engine compiles and renders Liquid templates with per-campaign caching.
// Campaign content is rendered once per contact, so compiled templates are
// cached under a caller-supplied key and invalidated when the campaign
// changes.
type Engine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewEngine creates a template engine with the custom filters registered.
func NewEngine() *Engine {
	e := &Engine{engine: liquid.NewEngine()}
	e.registerFilters()
	return e
}

// registerFilters adds the filters campaign authors use beyond Liquid's
// built-ins.
func (e *Engine) registerFilters() {
	// Fallback for sparse contact data: {{ first_name | default: "Friend" }}
	e.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ name | titlecase }}
	e.engine.RegisterFilter("titlecase", func(s string) string {
		return strings.Title(strings.ToLower(s))
	})

	// {{ email | urlencode }}
	e.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// {{ user_input | escape }}
	e.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	// {{ email | email_domain }}
	e.engine.RegisterFilter("email_domain", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	})
}

// Parse compiles a template string and returns any syntax errors. Used to
// validate campaign content before a send starts.
func (e *Engine) Parse(templateStr string) error {
	_, err := e.engine.ParseString(templateStr)
	return err
}

// Render processes a template with the given context. A non-empty cacheKey
// caches the compiled template for repeated renders of the same content.
func (e *Engine) Render(cacheKey, templateStr string, ctx map[string]interface{}) (string, error) {
	if cacheKey != "" {
		if cached, ok := e.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template).RenderString(ctx)
		}
	}

	tpl, err := e.engine.ParseString(templateStr)
	if err != nil {
		log.Printf("[Template] Parse error: %v", err)
		return "", fmt.Errorf("parse template: %w", err)
	}

	if cacheKey != "" {
		e.cache.Store(cacheKey, tpl)
	}

	out, err := tpl.RenderString(ctx)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}
