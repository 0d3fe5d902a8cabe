// Package i18n provides the message printer used for CLI output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// CLI message keys. English output is the key itself.
const (
	MsgShowHeader  = "bridge name\tbridge id\t\tSTP enabled\tinterfaces\n"
	MsgMacsHeader  = "port no\tmac addr\t\tis local?\tageing timer\n"
	MsgAddBridge   = "can't add bridge %s: %v\n"
	MsgDelBridge   = "can't delete bridge %s: %v\n"
	MsgAddIf       = "can't add %s to bridge %s: %v\n"
	MsgDelIf       = "can't delete %s from bridge %s: %v\n"
	MsgNoInterface = "interface %s does not exist!\n"
	MsgNoShim      = "can't reach %s: %v\n"
	MsgDiagnostics = "%d diagnostic entries\n"
	MsgStatusLine  = "sequence %d, timeout %v, up %v\n"
	MsgYes         = "yes"
	MsgNo          = "no"
)

func init() {
	de := language.German
	message.SetString(de, MsgShowHeader, "Bridge-Name\tBridge-ID\t\tSTP aktiv\tSchnittstellen\n")
	message.SetString(de, MsgMacsHeader, "Port\tMAC-Adresse\t\tlokal?\tAlterung\n")
	message.SetString(de, MsgAddBridge, "Bridge %s kann nicht angelegt werden: %v\n")
	message.SetString(de, MsgDelBridge, "Bridge %s kann nicht gelöscht werden: %v\n")
	message.SetString(de, MsgAddIf, "%s kann nicht zu Bridge %s hinzugefügt werden: %v\n")
	message.SetString(de, MsgDelIf, "%s kann nicht aus Bridge %s entfernt werden: %v\n")
	message.SetString(de, MsgNoInterface, "Schnittstelle %s existiert nicht!\n")
	message.SetString(de, MsgNoShim, "%s nicht erreichbar: %v\n")
	message.SetString(de, MsgDiagnostics, "%d Diagnoseeinträge\n")
	message.SetString(de, MsgStatusLine, "Sequenz %d, Zeitlimit %v, aktiv seit %v\n")
	message.SetString(de, MsgYes, "ja")
	message.SetString(de, MsgNo, "nein")
}

// MatchLocale maps a POSIX locale string such as "de_DE.UTF-8" to the
// closest supported language.
func MatchLocale(locale string) language.Tag {
	if i := strings.IndexAny(locale, ".@"); i != -1 {
		locale = locale[:i]
	}
	if locale == "" || locale == "C" || locale == "POSIX" {
		return DefaultLang
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return DefaultLang
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return DefaultLang
	}
	return SupportedLangs[idx]
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LC_MESSAGES")
	}
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	return message.NewPrinter(MatchLocale(lang))
}
