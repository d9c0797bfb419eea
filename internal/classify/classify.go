// Package classify assigns a category slug to post text using an ordered
// list of regexp rules. Order is the tie-break policy: the first matching
// rule wins.
package classify

import "regexp"

// DefaultSlug is returned when no rule matches.
const DefaultSlug = "misc"

// Rule pairs a category slug with the pattern that selects it.
type Rule struct {
	Slug    string
	Pattern *regexp.Regexp
}

// Rules is the fixed, ordered rule set. Patterns combine Russian and
// English synonym alternatives and are matched case-insensitively anywhere
// in the text.
var Rules = []Rule{
	{"rent", regexp.MustCompile(`(?i)аренд|сдам|сдаю|сниму|квартир|комнат|жиль|rent\b`)},
	{"jobs", regexp.MustCompile(`(?i)работ|вакансия|ищу работ|резюме|нанима|job|vacancy`)},
	{"transport", regexp.MustCompile(`(?i)авто\b|машин|автомобил|bmw|volkswagen|toyota|ford|hyundai|kia`)},
	{"education", regexp.MustCompile(`(?i)обучени|курс|репетитор|урок\b|учу\b|lesson`)},
	{"services", regexp.MustCompile(`(?i)услуг|помогу|сделаю|перевод|юрист|ремонт|клининг|service`)},
	{"meetups", regexp.MustCompile(`(?i)встреч|прогулк|знакомств|ищу компани|meetup`)},
	{"stuff", regexp.MustCompile(`(?i)продам|продаю|продается|куплю|отдам|даром|телефон|ноутбук`)},
}

// Slugs returns every known slug including the default, in rule order.
func Slugs() []string {
	out := make([]string, 0, len(Rules)+1)
	for _, r := range Rules {
		out = append(out, r.Slug)
	}
	return append(out, DefaultSlug)
}

// Detect returns the slug of the first matching rule, or DefaultSlug.
func Detect(text string) string {
	for _, r := range Rules {
		if r.Pattern.MatchString(text) {
			return r.Slug
		}
	}
	return DefaultSlug
}
