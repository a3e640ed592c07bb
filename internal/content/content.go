// Package content supplies quest templates and story text per world.
// Selection is deterministic for a given mission id so missions are
// reproducible in tests and replays.
package content

import (
	"fmt"
	"hash/fnv"

	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

// Mission layout constants.
const (
	QuestsPerMission = 10
	TeamIndex        = 9
)

// RiskIndices are the 1-based positions of risk questions.
var RiskIndices = []int{5, 10}

// Story is the narrative wrapper around a mission.
type Story struct {
	Briefing       string `json:"briefing"`
	DebriefSuccess string `json:"debrief_success"`
	DebriefFail    string `json:"debrief_fail"`
	Cliffhanger    string `json:"cliffhanger"`
}

type template struct {
	stem    string
	options []types.QuestOption
}

// Provider serves quests and stories from the built-in template bank.
type Provider struct{}

// NewProvider returns the built-in content provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Quests builds the ten-question set for a mission. Risk questions sit at
// positions 5 and 10, the team question at 9; base points grow with the
// position.
func (p *Provider) Quests(missionID string, world types.World, difficulty types.Difficulty) []types.Quest {
	bank := templates[world]
	if len(bank) == 0 {
		bank = templates[types.WorldHealth]
	}
	offset := int(seed(missionID, difficulty) % uint64(len(bank)))

	quests := make([]types.Quest, 0, QuestsPerMission)
	for i := 1; i <= QuestsPerMission; i++ {
		kind := types.KindStandard
		challengeID := ""
		if isRiskIndex(i) {
			kind = types.KindRisk
			challengeID = fmt.Sprintf("%s_boss_q%d", world, i)
		} else if i == TeamIndex {
			kind = types.KindTeam
		}

		tmpl := bank[(offset+i)%len(bank)]
		quests = append(quests, types.Quest{
			ID:          fmt.Sprintf("%s_q%d", missionID, i),
			Index:       i,
			World:       world,
			Kind:        kind,
			Stem:        tmpl.stem,
			Options:     append([]types.QuestOption(nil), tmpl.options...),
			BasePoints:  i * 100,
			ChallengeID: challengeID,
		})
	}
	return quests
}

// Story returns the narrative text for a world.
func (p *Provider) Story(world types.World) Story {
	if s, ok := stories[world]; ok {
		return s
	}
	return Story{
		Briefing:       fmt.Sprintf("Willkommen zur Mission in der %s-Welt! Bereite dich auf spannende Herausforderungen vor!", world),
		DebriefSuccess: "Großartig! Du hast die Mission gemeistert!",
		DebriefFail:    "Nicht aufgeben - versuche es erneut!",
		Cliffhanger:    "Fortsetzung folgt...",
	}
}

func isRiskIndex(i int) bool {
	for _, r := range RiskIndices {
		if i == r {
			return true
		}
	}
	return false
}

func seed(missionID string, difficulty types.Difficulty) uint64 {
	h := fnv.New64a()
	h.Write([]byte(missionID))
	h.Write([]byte(difficulty))
	return h.Sum64()
}

func opts(correct int, texts ...string) []types.QuestOption {
	ids := []string{"a", "b", "c", "d"}
	options := make([]types.QuestOption, len(texts))
	for i, text := range texts {
		options[i] = types.QuestOption{ID: ids[i], Text: text, Correct: i == correct}
	}
	return options
}

var templates = map[types.World][]template{
	types.WorldHealth: {
		{
			stem: "Welche Schutzkleidung muss im CleanRoom getragen werden?",
			options: opts(0,
				"Steriler Kittel, Handschuhe, Maske, Haube",
				"Nur Handschuhe und Maske",
				"Normale Arbeitskleidung reicht",
				"Keine besonderen Anforderungen"),
		},
		{
			stem: "Wie oft muss die Händedesinfektion vor Patientenkontakt erfolgen?",
			options: opts(0,
				"Vor jedem Kontakt",
				"Einmal pro Schicht",
				"Nur bei sichtbarer Verschmutzung",
				"Nur nach dem Kontakt"),
		},
		{
			stem: "Was ist beim Umgang mit Zytostatika zu beachten?",
			options: opts(1,
				"Keine besonderen Maßnahmen",
				"Geschlossene Systeme und Schutzausrüstung verwenden",
				"Nur Handschuhe tragen",
				"Abzug ist optional"),
		},
	},
	types.WorldIT: {
		{
			stem: "Was ist die wichtigste Maßnahme gegen Phishing?",
			options: opts(0,
				"Links vor dem Klicken überprüfen",
				"Alle E-Mails löschen",
				"Passwörter weitergeben",
				"Firewall deaktivieren"),
		},
		{
			stem: "Wie sollte ein sicheres Passwort aufgebaut sein?",
			options: opts(2,
				"Der eigene Name mit Geburtsjahr",
				"Ein kurzes Wort aus dem Wörterbuch",
				"Lang, zufällig und pro Dienst einzigartig",
				"Dasselbe Passwort überall"),
		},
		{
			stem: "Was tun bei einem Verdacht auf Ransomware-Befall?",
			options: opts(1,
				"Weiterarbeiten und beobachten",
				"Gerät vom Netz trennen und IT-Sicherheit melden",
				"Lösegeld sofort zahlen",
				"Rechner neu starten und hoffen"),
		},
	},
	types.WorldLegal: {
		{
			stem: "Welcher DSGVO-Artikel regelt das Recht auf Löschung?",
			options: opts(0,
				"Artikel 17",
				"Artikel 5",
				"Artikel 32",
				"Artikel 88"),
		},
		{
			stem: "Wie lange beträgt die Meldefrist bei einer Datenpanne?",
			options: opts(1,
				"7 Tage",
				"72 Stunden",
				"30 Tage",
				"Es gibt keine Frist"),
		},
		{
			stem: "Wann ist eine Datenschutz-Folgenabschätzung erforderlich?",
			options: opts(0,
				"Bei voraussichtlich hohem Risiko für Betroffene",
				"Bei jeder Verarbeitung",
				"Niemals",
				"Nur auf Anordnung der Behörde"),
		},
	},
	types.WorldPublic: {
		{
			stem: "Welche Priorität hat ein Eilantrag eines Bürgers?",
			options: opts(0,
				"Höchste - sofortige Bearbeitung",
				"Normal - nach Reihenfolge",
				"Niedrig - nach Standardanträgen",
				"Keine Priorität"),
		},
		{
			stem: "Wie sind Dienstgeheimnisse zu behandeln?",
			options: opts(2,
				"Mit Kollegen frei teilen",
				"Privat notieren",
				"Vertraulich behandeln, Weitergabe nur bei Befugnis",
				"In sozialen Medien erwähnen ist erlaubt"),
		},
		{
			stem: "Was gilt bei der Annahme von Geschenken im Amt?",
			options: opts(1,
				"Alles bis 100 Euro ist erlaubt",
				"Grundsätzlich verboten, Ausnahmen nur mit Genehmigung",
				"Nur Bargeld ist verboten",
				"Keine Regelungen vorhanden"),
		},
	},
	types.WorldFactory: {
		{
			stem: "Was ist beim Not-Aus zu beachten?",
			options: opts(0,
				"Sofort betätigen bei Gefahr, dann Evakuierung",
				"Erst Vorgesetzten fragen",
				"Warten bis Schichtende",
				"Ignorieren und weiterarbeiten"),
		},
		{
			stem: "Wann muss die Schutzbrille getragen werden?",
			options: opts(1,
				"Nur beim Schweißen",
				"In allen gekennzeichneten Bereichen",
				"Nur wenn Späne fliegen",
				"Nie, sie behindert die Sicht"),
		},
		{
			stem: "Wie wird eine Maschine vor Wartungsarbeiten gesichert?",
			options: opts(0,
				"Freischalten, gegen Wiedereinschalten sichern, Spannungsfreiheit prüfen",
				"Nur ausschalten",
				"Schild aufstellen reicht",
				"Wartung bei laufender Maschine"),
		},
	},
}

var stories = map[types.World]Story{
	types.WorldHealth: {
		Briefing:       "Willkommen im Klinikum! Heute sicherst du den CleanRoom und schützt deine Patienten.",
		DebriefSuccess: "Großartig! Die Station ist sicher - dein Team kann sich auf dich verlassen.",
		DebriefFail:    "Nicht aufgeben - die Patienten brauchen dich. Versuche es erneut!",
		Cliffhanger:    "Ein neuer Notfall bahnt sich an...",
	},
	types.WorldIT: {
		Briefing:       "Willkommen im Security Operations Center! Ein Angriff steht bevor - halte die Systeme sauber.",
		DebriefSuccess: "Stark! Die Angreifer haben keine Chance gehabt.",
		DebriefFail:    "Das Netz ist noch verwundbar. Versuche es erneut!",
		Cliffhanger:    "In den Logs taucht eine unbekannte Signatur auf...",
	},
	types.WorldLegal: {
		Briefing:       "Willkommen in der Rechtsabteilung! Eine Datenpanne wurde gemeldet - jetzt zählt jede Stunde.",
		DebriefSuccess: "Sauber gelöst! Die Aufsichtsbehörde ist zufrieden.",
		DebriefFail:    "Die Frist läuft noch - versuche es erneut!",
		Cliffhanger:    "Ein neues Auskunftsersuchen liegt auf dem Tisch...",
	},
	types.WorldPublic: {
		Briefing:       "Willkommen im Bürgeramt! Der Posteingang ist voll und ein Eilantrag wartet.",
		DebriefSuccess: "Großartig! Alle Anträge korrekt bearbeitet.",
		DebriefFail:    "Die Bürger warten noch - versuche es erneut!",
		Cliffhanger:    "Morgen steht die große Prüfung durch das Ministerium an...",
	},
	types.WorldFactory: {
		Briefing:       "Willkommen in der Fabrik! Die Schicht beginnt und die Anlage muss sicher laufen.",
		DebriefSuccess: "Großartig! Du hast die Mission gemeistert!",
		DebriefFail:    "Nicht aufgeben - versuche es erneut!",
		Cliffhanger:    "Fortsetzung folgt...",
	},
}
