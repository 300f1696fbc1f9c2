// Package topics holds the baseline topic taxonomy used to label articles and
// the consolidation of specific, model-generated topics into it.
package topics

import (
	"fmt"
	"sort"
	"strings"
)

// Label is a validated baseline topic.
type Label string

// Sentinel is recorded in place of a label when classification fails.
const Sentinel = "ERROR_CLASSIFYING_TOPIC"

// Baseline topics.
const (
	Desinformation Label = "Desinformation & Falschmeldungen"
	Wahlen         Label = "Wahlen & Wahlkampf"
	Ukraine        Label = "Ukraine-Konflikt"
	Geopolitik     Label = "Krisengebiete & Geopolitik"
	KI             Label = "Künstliche Intelligenz"
	Klima          Label = "Klima & Umwelt"
	Migration      Label = "Migration & Asyl"
	Gesundheit     Label = "Gesundheit & Wissenschaft"
	Extremismus    Label = "Extremismus & Sicherheit"
	Politik        Label = "Politik & Regierung"
	Verschwoerung  Label = "Verschwörungstheorien"
	Online         Label = "Online-Sicherheit & Betrug"
)

// Baseline lists the taxonomy in its canonical order.
var Baseline = []Label{
	Desinformation, Wahlen, Ukraine, Geopolitik, KI, Klima,
	Migration, Gesundheit, Extremismus, Politik, Verschwoerung, Online,
}

// consolidation maps specific topics onto the baseline.
var consolidation = map[Label][]string{
	Desinformation: {
		"Desinformation", "Desinformation und Kommunikation", "Desinformation gegen Frauen",
		"Manipulierte Videos", "KI-generierte Desinformation", "Falschmeldungen über Prominente",
		"US-Mexiko-Beziehungen",
	},
	Wahlen: {
		"Wahlbetrug", "Wahlberichterstattung", "Bundestagswahl", "Wahlumfragen", "Europawahl",
		"Wahlsicherheit", "Desinformation in Wahlen", "KI im Wahlkampf", "Wahlmanipulation", "Briefwahl",
	},
	Ukraine: {"Ukraine-Krieg", "Desinformation Ukraine-Krieg", "Ukraine-Hilfe"},
	Geopolitik: {
		"Nahost-Konflikt", "Nahostkonflikt", "Iran-USA-Konflikt", "Gazastreifen", "Russland-Afrika",
		"Russland-Sanktionen", "Russische Präsidentschaftswahl", "Syrien-Konflikt", "Syrien", "Erdbeben",
	},
	KI:    {"Künstliche Intelligenz", "KI-generierte Videos"},
	Klima: {"Klimawandel", "Windkraft", "Insekten als Nahrungsmittel", "Hochwasser", "Hochwasserschutz", "Unwetter"},
	Migration: {
		"Geflüchtete", "Sozialbetrug", "Migration", "Asylpolitik", "Asyl und Geflüchtete",
		"Flüchtlingsunterbringung", "Asylleistungen", "Abschiebung",
	},
	Gesundheit: {
		"COVID-19-Impfung", "Corona-Impfungen", "Ernährung", "Gesundheit", "Wissenschaftskommunikation",
		"5G-Mobilfunk", "Gesundheit von Politikern",
	},
	Extremismus: {
		"Rechtsextremismus", "Verfassungsschutz", "Anschlag Magdeburg", "Evangelikale Missionierung",
		"Kriminalität in Schwimmbädern", "Messerkriminalität",
	},
	Politik: {
		"Ministergehälter", "Religiöse Feiertage", "Waffenstationierung", "Bürgergeld", "Rentenpolitik",
		"Versammlungsrecht", "Kindergeld", "Krankenhausfinanzierung", "Fachkräftemangel", "Sexualstraftaten",
		"Sparvermögen", "Politikeraussagen", "Steuern", "Tag der Deutschen Einheit", "Pressefreiheit",
	},
	Verschwoerung: {"Verschwörungstheorien", "Russische Propaganda", "Holocaust", "Entwicklungshilfe"},
	Online: {
		"Datendiebstahl", "Phishing", "Kettenbriefe", "Datenschutz", "Satire", "Social Media",
		"Social Media Monitoring", "Falschidentifikation in Sozialen Medien", "Fußball-WM", "Amoklauf",
		"Spionage", "Charlie Kirk",
	},
}

var (
	baselineIndex = buildBaselineIndex()
	reverseIndex  = buildReverseIndex()
)

func buildBaselineIndex() map[string]Label {
	out := make(map[string]Label, len(Baseline))
	for _, l := range Baseline {
		out[normalize(string(l))] = l
	}
	return out
}

func buildReverseIndex() map[string]Label {
	out := make(map[string]Label)
	for base, specifics := range consolidation {
		for _, s := range specifics {
			out[normalize(s)] = base
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Parse coerces a raw label into the taxonomy. Baseline names match
// case-insensitively; known specific topics are consolidated.
func Parse(raw string) (Label, error) {
	key := normalize(raw)
	if key == "" {
		return "", fmt.Errorf("empty topic label")
	}
	if l, ok := baselineIndex[key]; ok {
		return l, nil
	}
	if l, ok := reverseIndex[key]; ok {
		return l, nil
	}
	return "", fmt.Errorf("topic label %q is not in the taxonomy", raw)
}

// Consolidate maps a specific topic onto its baseline topic.
func Consolidate(specific string) (Label, bool) {
	l, ok := reverseIndex[normalize(specific)]
	return l, ok
}

// Mapping returns a copy of the consolidation table, specifics sorted.
func Mapping() map[Label][]string {
	out := make(map[Label][]string, len(consolidation))
	for k, v := range consolidation {
		cp := append([]string(nil), v...)
		sort.Strings(cp)
		out[k] = cp
	}
	return out
}

// IsSentinel reports whether raw is the failure sentinel.
func IsSentinel(raw string) bool {
	return strings.TrimSpace(raw) == Sentinel
}
