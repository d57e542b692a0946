package strategy

import (
	"fmt"
	"strings"

	"github.com/curbtheory/curbside/llm"
)

// Prompt builders. Strategist, briefer, and holiday prompts carry the full
// snapshot context. The consolidator prompt is role-pure: only other roles'
// outputs plus the resolved address, never raw snapshot data.

func strategistPrompt(c *Context) llm.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Driver location: %s.\n", c.Place())
	b.WriteString(c.TimeLine())
	b.WriteString("\n")
	for _, line := range []string{c.WeatherLine(), c.AirportLine(), c.HolidayLine()} {
		if line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nWhere should this driver position right now, and why?")

	return llm.Prompt{
		System: "You are a rideshare positioning strategist. Give a tactical " +
			"assessment for a driver on shift: where demand is, where to stage, " +
			"what to avoid. Respond in 2-3 plain sentences. No markdown, no lists. " +
			"Use the provided day of week and local time as authoritative.",
		User: b.String(),
	}
}

func brieferPrompt(c *Context) llm.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s.\n", c.Place())
	b.WriteString(c.TimeLine())
	b.WriteString("\n")
	if w := c.WeatherLine(); w != "" {
		b.WriteString(w)
		b.WriteString("\n")
	}
	b.WriteString("\nSearch for current conditions affecting rideshare demand here and respond " +
		"with a single JSON object with exactly these string fields: " +
		`"global_travel", "domestic_travel", "local_traffic", "weather_impacts", ` +
		`"rideshare_intel", and "events_nearby" (an array of strings, one per event). ` +
		"Keep each field under 60 words. Use \"\" or [] when nothing is notable.")

	return llm.Prompt{
		System: "You are a rideshare market researcher with live web search. " +
			"Report only verifiable, current facts. Output JSON only.",
		User: b.String(),
	}
}

// secondaryPrompt builds the focused follow-up searches the briefing
// assembly fans out (events, traffic, school closures, news).
func secondaryPrompt(c *Context, topic string) llm.Prompt {
	var ask string
	switch topic {
	case "events":
		ask = "List events happening today or tonight near this location that would move " +
			"rideshare demand (concerts, games, conventions). One line per event with venue " +
			"and start time. Reply \"none\" if there are none."
	case "traffic":
		ask = "Describe current road closures, construction, or traffic incidents near this " +
			"location in 1-2 sentences. Reply \"none\" if traffic is normal."
	case "school_closures":
		ask = "Are schools in this area closed or on a modified schedule today? Answer in one " +
			"sentence. Reply \"none\" if schedules are normal."
	case "news":
		ask = "Summarize any local news from the last 24 hours that would affect rideshare " +
			"demand here, in 1-2 sentences. Reply \"none\" if there is nothing relevant."
	}

	return llm.Prompt{
		System: "You are a rideshare market researcher with live web search. Be terse and factual.",
		User:   fmt.Sprintf("Location: %s. %s\n%s", c.Place(), c.TimeLine(), ask),
	}
}

func holidayPrompt(c *Context) llm.Prompt {
	s := c.Snapshot
	return llm.Prompt{
		System: "You classify dates. Respond with only the holiday name, or the single word " +
			"none.",
		User: fmt.Sprintf("Is %s (%s) a public holiday or widely observed occasion in %s?",
			s.Date, s.DayOfWeek, s.Country),
	}
}

// consolidatorPrompt is role-pure: strategist output, briefer output, and
// the resolved address only.
func consolidatorPrompt(strategistOutput, brieferOutput, resolvedAddress string) llm.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Driver address: %s\n\n", resolvedAddress)
	fmt.Fprintf(&b, "Tactical assessment:\n%s\n\n", strategistOutput)
	fmt.Fprintf(&b, "Market briefing:\n%s\n", brieferOutput)

	return llm.Prompt{
		System: "You merge a tactical assessment and a market briefing into one short, " +
			"consolidated rideshare strategy a driver can act on immediately. 3-5 plain " +
			"sentences, concrete places and times, no markdown.",
		User: b.String(),
	}
}

func venuePrompt(consolidated, resolvedAddress string) llm.Prompt {
	return llm.Prompt{
		System: "You produce staging venues for rideshare drivers. Respond with a JSON array " +
			"of exactly 8 objects, each with fields: name (string), lat (number), lng (number), " +
			"staging_lat (number), staging_lng (number). The staging point is a legal place to " +
			"wait within a short drive of the venue. Output JSON only.",
		User: fmt.Sprintf("Driver address: %s\n\nStrategy:\n%s", resolvedAddress, consolidated),
	}
}
