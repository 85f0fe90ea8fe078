package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/goodsign/monday"
)

// DefaultLocale is used for unknown locale tags.
const DefaultLocale = "en_US"

type locale struct {
	tag      monday.Locale
	message  string // printf template: user name, formatted slot
	dateTime string // Go layout; month names are translated by monday
}

var locales = map[string]locale{
	"en_US": {monday.LocaleEnUS, "New booking from %s for %s", "January 2, 15:04"},
	"pt_BR": {monday.LocalePtBR, "Novo agendamento de %s para %s", "dia 02 de January, às 15:04h"},
	"pt_PT": {monday.LocalePtPT, "Nova marcação de %s para %s", "dia 02 de January, às 15:04h"},
	"es_ES": {monday.LocaleEsES, "Nueva reserva de %s para el %s", "2 de January, 15:04"},
	"fr_FR": {monday.LocaleFrFR, "Nouvelle réservation de %s pour le %s", "2 January à 15h04"},
	"de_DE": {monday.LocaleDeDE, "Neue Buchung von %s für den %s", "2. January, 15:04 Uhr"},
}

// Formatter renders provider notifications in one locale.
type Formatter struct {
	locale locale
	name   string
}

// NewFormatter returns a formatter for tag (e.g. "pt_BR"). The boolean is
// false when tag is unknown and the default locale was used instead.
func NewFormatter(tag string) (*Formatter, bool) {
	if l, ok := locales[tag]; ok {
		return &Formatter{locale: l, name: tag}, true
	}
	return &Formatter{locale: locales[DefaultLocale], name: DefaultLocale}, false
}

func (f *Formatter) Locale() string {
	return f.name
}

// FormatSlot renders the slot start as a long-form date with day, month
// name and hour.
func (f *Formatter) FormatSlot(t time.Time) string {
	return monday.Format(t, f.locale.dateTime, f.locale.tag)
}

func (f *Formatter) BookingMessage(userName string, hourStart time.Time) string {
	return fmt.Sprintf(f.locale.message, userName, f.FormatSlot(hourStart))
}

func SupportedLocales() []string {
	tags := make([]string, 0, len(locales))
	for tag := range locales {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
