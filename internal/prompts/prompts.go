// Package prompts holds the instruction templates sent to the generation
// provider. Thematic templates carry literal placeholders that are substituted
// with the user's theme before the call; nothing here performs any validation
// or network work.
package prompts

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	themePlaceholder = "{{THEME}}"
	stylePlaceholder = "{{STYLE}}"
)

// StyleVariant is one of the fixed compositional templates applied in
// thematic mode. Variants are always issued in slice order.
type StyleVariant struct {
	Name     string
	guidance map[string]string
}

var styleVariants = []StyleVariant{
	{
		Name: "editorial",
		guidance: map[string]string{
			"en": "an editorial magazine composition on polished marble, dramatic soft-box lighting, shallow depth of field, evoking {{THEME}}",
			"es": "una composición editorial de revista sobre mármol pulido, iluminación suave y dramática, poca profundidad de campo, evocando {{THEME}}",
		},
	},
	{
		Name: "lifestyle",
		guidance: map[string]string{
			"en": "a warm lifestyle scene with natural window light and linen textures, styled around {{THEME}}",
			"es": "una escena cálida de estilo de vida con luz natural de ventana y texturas de lino, ambientada en {{THEME}}",
		},
	},
	{
		Name: "still_life",
		guidance: map[string]string{
			"en": "a minimalist still-life arrangement with sculptural props and a muted palette inspired by {{THEME}}",
			"es": "un bodegón minimalista con objetos esculturales y una paleta sobria inspirada en {{THEME}}",
		},
	},
}

var thematicBase = map[string]string{
	"en": "Transform this jewelry product photo into a marketing image with the theme \"{{THEME}}\". Place the piece in {{STYLE}}. Keep the jewelry itself unaltered: same shape, stones, and metal tones, sharp focus, no deformation.",
	"es": "Transforma esta foto de joyería en una imagen de marketing con el tema \"{{THEME}}\". Coloca la pieza en {{STYLE}}. Mantén la joya intacta: misma forma, piedras y tonos de metal, enfoque nítido, sin deformaciones.",
}

var catalogInstruction = map[string]string{
	"en": "Clean up this jewelry product photo for a catalog listing: remove the background and replace it with pure seamless white, correct the white balance, remove dust and fingerprints from the piece, and keep its shape, stones, and metal tones exactly as photographed.",
	"es": "Limpia esta foto de producto de joyería para un catálogo: elimina el fondo y sustitúyelo por blanco puro, corrige el balance de blancos, quita polvo y huellas de la pieza, y conserva su forma, piedras y tonos de metal exactamente como en la foto.",
}

var videoBase = map[string]string{
	"en": "A short elegant presentation video of this jewelry piece. Slow camera orbit, glints of light moving across the metal and stones, luxurious dark backdrop. ",
	"es": "Un vídeo corto y elegante de presentación de esta joya. Órbita lenta de cámara, destellos de luz recorriendo el metal y las piedras, fondo oscuro y lujoso. ",
}

// Variants returns the fixed set of thematic style templates in issue order.
func Variants() []StyleVariant {
	out := make([]StyleVariant, len(styleVariants))
	copy(out, styleVariants)
	return out
}

// CatalogInstruction returns the catalog clean-up instruction for a locale.
func CatalogInstruction(locale string) string {
	return pick(catalogInstruction, locale)
}

// ThematicInstruction builds the instruction for one style variant by literal
// placeholder replacement. The theme is title-cased per locale so it reads
// naturally when embedded mid-sentence in the template.
func ThematicInstruction(locale string, variant StyleVariant, theme string) string {
	theme = cases.Title(langFor(locale), cases.NoLower).String(strings.TrimSpace(theme))
	guidance := strings.ReplaceAll(pick(variant.guidance, locale), themePlaceholder, theme)
	base := strings.ReplaceAll(pick(thematicBase, locale), stylePlaceholder, guidance)
	return strings.ReplaceAll(base, themePlaceholder, theme)
}

// VideoInstruction combines the base video direction with the user's prompt.
func VideoInstruction(locale, userPrompt string) string {
	return pick(videoBase, locale) + strings.TrimSpace(userPrompt)
}

func pick(byLocale map[string]string, locale string) string {
	if v, ok := byLocale[normalize(locale)]; ok {
		return v
	}
	return byLocale["en"]
}

func normalize(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if strings.HasPrefix(locale, "es") {
		return "es"
	}
	return "en"
}

func langFor(locale string) language.Tag {
	if normalize(locale) == "es" {
		return language.Spanish
	}
	return language.English
}
