// Package i18n resolves user-facing job messages for a locale.
package i18n

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys
const (
	KeyCrcResult         = "job.fixAuthoritiesCrcValues.result"
	KeyCrcFixed          = "job.fixAuthoritiesCrcValues.fixed"
	KeyCrcUnableToChange = "job.fixAuthoritiesCrcValues.unableToChange"
	KeyCrcScanFailed     = "job.fixAuthoritiesCrcValues.scanFailed"
)

// supported lists the catalog languages, default first
var supported = []language.Tag{language.English, language.German}

type entry struct {
	key string
	msg catalog.Message
}

var translations = map[language.Tag][]entry{
	language.English: {
		{KeyCrcResult, plural.Selectf(1, "%d",
			"=0", "No authority CRC values needed fixing. See file %[2]s",
			"one", "Fixed %[1]d authority CRC value. See file %[2]s",
			"other", "Fixed %[1]d authority CRC values. See file %[2]s",
		)},
		{KeyCrcFixed, catalog.String("Updated CRC value for authority ID %[1]s: %[2]s: %[3]s -> %[4]s")},
		{KeyCrcUnableToChange, catalog.String("Unable to change CRC value for authority ID %[1]s: %[2]s: %[3]s -> %[4]s: %[5]s")},
		{KeyCrcScanFailed, catalog.String("Failed to scan authorities for CRC mismatches: %[1]s")},
	},
	language.German: {
		{KeyCrcResult, plural.Selectf(1, "%d",
			"=0", "Keine CRC-Werte von Berechtigungen mussten korrigiert werden. Siehe Datei %[2]s",
			"one", "%[1]d CRC-Wert einer Berechtigung korrigiert. Siehe Datei %[2]s",
			"other", "%[1]d CRC-Werte von Berechtigungen korrigiert. Siehe Datei %[2]s",
		)},
		{KeyCrcFixed, catalog.String("CRC-Wert für Berechtigung mit ID %[1]s aktualisiert: %[2]s: %[3]s -> %[4]s")},
		{KeyCrcUnableToChange, catalog.String("CRC-Wert für Berechtigung mit ID %[1]s konnte nicht geändert werden: %[2]s: %[3]s -> %[4]s: %[5]s")},
		{KeyCrcScanFailed, catalog.String("Suche nach abweichenden CRC-Werten fehlgeschlagen: %[1]s")},
	},
}

// NewCatalog builds the message catalog. Unknown locales fall back to English.
func NewCatalog() (*catalog.Builder, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, tag := range supported {
		for _, e := range translations[tag] {
			if err := b.Set(tag, e.key, e.msg); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

// Localizer formats messages for one locale
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// New creates a localizer for a BCP 47 locale such as "en" or "de-DE".
// An empty or unparsable locale selects English.
func New(locale string) (*Localizer, error) {
	cat, err := NewCatalog()
	if err != nil {
		return nil, err
	}

	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			tag = parsed
		}
	}

	matched, _, _ := language.NewMatcher(supported).Match(tag)
	base, _ := matched.Base()
	tag = language.Make(base.String())

	return &Localizer{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(cat)),
	}, nil
}

// Tag returns the resolved language
func (l *Localizer) Tag() language.Tag {
	return l.tag
}

// Text resolves key and formats it with args
func (l *Localizer) Text(key string, args ...any) string {
	return l.printer.Sprintf(key, args...)
}
