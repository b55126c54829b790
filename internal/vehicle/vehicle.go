// Package vehicle guesses the make and model year mentioned in listing text.
package vehicle

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

// Makes lists the recognised manufacturers in canonical lowercase form.
var Makes = []string{
	"acura", "alfa romeo", "aston martin", "audi", "bentley", "bmw", "buick",
	"cadillac", "chevrolet", "chrysler", "citroën", "dodge", "ferrari", "fiat",
	"ford", "genesis", "gmc", "honda", "hyundai", "infiniti", "jaguar", "jeep",
	"kia", "lamborghini", "land rover", "lexus", "lincoln", "maserati", "mazda",
	"mclaren", "mercedes-benz", "mini", "mitsubishi", "nissan", "peugeot",
	"porsche", "ram", "renault", "rolls-royce", "saab", "subaru", "suzuki",
	"tesla", "toyota", "volkswagen", "volvo",
	// motorcycles and powersports
	"aprilia", "arctic cat", "can-am", "ducati", "harley-davidson", "indian",
	"kawasaki", "ktm", "polaris", "royal enfield", "triumph", "vespa", "yamaha",
	// trucks
	"freightliner", "hino", "international", "kenworth", "mack", "peterbilt",
	"western star", "isuzu",
}

// aliases maps nicknames and spelling variants to canonical names.
var aliases = map[string]string{
	"chevy":     "chevrolet",
	"vw":        "volkswagen",
	"benz":      "mercedes-benz",
	"mercedes":  "mercedes-benz",
	"merc":      "mercedes-benz",
	"citroen":   "citroën",
	"harley":    "harley-davidson",
	"landrover": "land rover",
}

var (
	makeRe = buildMakeRe()
	yearRe = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

func buildMakeRe() *regexp.Regexp {
	names := make([]string, 0, len(Makes)+len(aliases))
	names = append(names, Makes...)
	for alias := range aliases {
		names = append(names, alias)
	}
	// longest first so "land rover" wins over "land"
	slices.SortFunc(names, func(a, b string) int {
		if d := len(b) - len(a); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\pL\pN])(` + strings.Join(quoted, "|") + `)(?:$|[^\pL\pN])`)
}

// Canonical maps a make or alias to its canonical name.
func Canonical(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if c, ok := aliases[lower]; ok {
		return c, true
	}
	if slices.Contains(Makes, lower) {
		return lower, true
	}
	return "", false
}

// Detect returns the first make and model year found in text, or nil when
// neither is present.
func Detect(text string) *marketplace.VehicleHint {
	if text == "" {
		return nil
	}
	var hint marketplace.VehicleHint
	if m := makeRe.FindStringSubmatch(text); m != nil {
		hint.Make, _ = Canonical(m[1])
	}
	if m := yearRe.FindStringSubmatch(text); m != nil {
		hint.Year, _ = strconv.Atoi(m[1])
	}
	if hint.Make == "" && hint.Year == 0 {
		return nil
	}
	return &hint
}
