package gemini

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/phrazzld/paygate/internal/domain"
)

const promptText = `You are an NBA analyst. Estimate the outcome of the game below.

Game: {{.AwayName}} at {{.HomeName}} on {{.Date}} (status: {{.Status}}).

Recent form, {{.HomeName}}:
{{- range .RecentHome}}
- {{.}}
{{- else}}
- no recent games
{{- end}}

Recent form, {{.AwayName}}:
{{- range .RecentAway}}
- {{.}}
{{- else}}
- no recent games
{{- end}}

Head to head:
{{- range .HeadToHead}}
- {{.}}
{{- else}}
- no previous meetings
{{- end}}

Injuries:
{{- range .Injuries}}
- {{.}}
{{- else}}
- none reported
{{- end}}

Answer with a single JSON object with the keys "homeWinProbability" and
"awayWinProbability" (numbers between 0 and 1 that sum to 1), "summary"
(two or three sentences) and "keyFactors" (up to five short strings).`

var promptTemplate = template.Must(template.New("matchup").Parse(promptText))

type promptData struct {
	Date       string
	Status     string
	HomeName   string
	AwayName   string
	RecentHome []string
	RecentAway []string
	HeadToHead []string
	Injuries   []string
}

func buildPrompt(mc *domain.MatchupContext) (string, error) {
	data := promptData{
		Date:       mc.Game.GameDate.Format(domain.DateLayout),
		Status:     orDefault(mc.Game.Status, "scheduled"),
		HomeName:   teamName(mc.HomeTeam),
		AwayName:   teamName(mc.AwayTeam),
		RecentHome: describeGames(mc.RecentHome),
		RecentAway: describeGames(mc.RecentAway),
		HeadToHead: describeGames(mc.HeadToHead),
	}
	for _, inj := range mc.Injuries {
		line := fmt.Sprintf("%s (%s): %s", inj.PlayerName, inj.TeamAbbrev, inj.Status)
		if inj.Description != "" {
			line += ", " + inj.Description
		}
		data.Injuries = append(data.Injuries, line)
	}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

func describeGames(games []domain.Game) []string {
	out := make([]string, 0, len(games))
	for _, g := range games {
		line := fmt.Sprintf("%s %s vs %s", g.GameDate.Format(domain.DateLayout),
			orDefault(g.HomeAbbrev, g.HomeTeamID), orDefault(g.AwayAbbrev, g.AwayTeamID))
		if g.HasScore() {
			line += fmt.Sprintf(" %d-%d", *g.HomeScore, *g.AwayScore)
		}
		out = append(out, line)
	}
	return out
}

func teamName(t domain.Team) string {
	if t.Name != "" {
		return t.Name
	}
	return t.Abbrev
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
