package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

var supportedLocales = language.NewMatcher([]language.Tag{
	language.English, // first tag is the fallback
	language.Spanish,
})

// I18N resolves the request locale (en or es) from the X-Locale header or
// Accept-Language and stores it in the context. Prompt templates are picked
// per locale downstream.
func I18N(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := resolveLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), localeContextKey{}, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LocaleFromContext returns the locale stored by I18N, defaulting to "en".
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeContextKey{}).(string); ok && v != "" {
		return v
	}
	return "en"
}

func resolveLocale(r *http.Request, fallback string) string {
	prefs := []string{r.Header.Get("X-Locale"), r.Header.Get("Accept-Language"), fallback}
	for _, pref := range prefs {
		if pref == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(pref)
		if err != nil || len(tags) == 0 {
			continue
		}
		tag, _, conf := supportedLocales.Match(tags...)
		if conf == language.No {
			continue
		}
		base, _ := tag.Base()
		return base.String()
	}
	return "en"
}
