package botstar

import (
	"sort"
	"strings"
	"time"
)

// timezoneRegions maps IANA zone regions to their subregions, used for
// /timezone autocomplete and validation. The table intentionally covers
// the commonly used zones rather than the full tz database; the final
// authority on validity is time.LoadLocation at set time.
var timezoneRegions = map[string][]string{
	"Africa": {
		"Abidjan", "Accra", "Addis_Ababa", "Algiers", "Cairo", "Casablanca",
		"Harare", "Johannesburg", "Lagos", "Nairobi", "Tripoli", "Tunis",
	},
	"America": {
		"Anchorage", "Argentina/Buenos_Aires", "Bogota", "Caracas",
		"Chicago", "Denver", "Edmonton", "Halifax", "Havana", "Lima",
		"Los_Angeles", "Mexico_City", "Montevideo", "New_York", "Phoenix",
		"Puerto_Rico", "Santiago", "Sao_Paulo", "St_Johns", "Toronto",
		"Vancouver", "Winnipeg",
	},
	"Asia": {
		"Baghdad", "Bangkok", "Beirut", "Dhaka", "Dubai", "Ho_Chi_Minh",
		"Hong_Kong", "Jakarta", "Jerusalem", "Kabul", "Karachi",
		"Kathmandu", "Kolkata", "Kuala_Lumpur", "Manila", "Riyadh",
		"Seoul", "Shanghai", "Singapore", "Taipei", "Tehran", "Tokyo",
	},
	"Atlantic": {
		"Azores", "Bermuda", "Canary", "Cape_Verde", "Reykjavik",
	},
	"Australia": {
		"Adelaide", "Brisbane", "Darwin", "Hobart", "Melbourne", "Perth",
		"Sydney",
	},
	"Europe": {
		"Amsterdam", "Athens", "Belgrade", "Berlin", "Brussels",
		"Bucharest", "Budapest", "Copenhagen", "Dublin", "Helsinki",
		"Istanbul", "Kyiv", "Lisbon", "London", "Madrid", "Moscow",
		"Oslo", "Paris", "Prague", "Rome", "Stockholm", "Vienna",
		"Warsaw", "Zurich",
	},
	"Indian": {
		"Maldives", "Mauritius", "Reunion",
	},
	"Pacific": {
		"Auckland", "Fiji", "Guam", "Honolulu", "Midway", "Noumea",
		"Pago_Pago", "Tahiti", "Tongatapu",
	},
	// Zones with no subregion component.
	"Other": {
		"UTC",
	},
}

// TimezoneRegions returns the sorted region names offered by /timezone
// autocomplete.
func TimezoneRegions() []string {
	regions := make([]string, 0, len(timezoneRegions))
	for region := range timezoneRegions {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

// TimezoneSubregions returns the sorted subregions for a region, or nil
// for an unknown region.
func TimezoneSubregions(region string) []string {
	subregions, ok := timezoneRegions[region]
	if !ok {
		return nil
	}
	out := make([]string, len(subregions))
	copy(out, subregions)
	sort.Strings(out)
	return out
}

// zoneName joins a region and subregion into an IANA zone name. Zones
// under the 'Other' pseudo-region have no region prefix.
func zoneName(region, subregion string) string {
	if region == "Other" {
		return subregion
	}
	return region + "/" + subregion
}

// ValidTimezone reports whether the given region/subregion pair names a
// zone in the autocomplete table that the runtime can actually load, and
// returns the resolved zone name.
func ValidTimezone(region, subregion string) (string, bool) {
	subregions, ok := timezoneRegions[region]
	if !ok {
		return "", false
	}
	found := false
	for _, s := range subregions {
		if s == subregion {
			found = true
			break
		}
	}
	if !found {
		return "", false
	}
	name := zoneName(region, subregion)
	if _, err := time.LoadLocation(name); err != nil {
		return "", false
	}
	return name, true
}

// filterPrefix returns the values whose lowercase form starts with the
// lowercase prefix, preserving order.
func filterPrefix(values []string, prefix string) []string {
	prefix = strings.ToLower(prefix)
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.HasPrefix(strings.ToLower(v), prefix) {
			out = append(out, v)
		}
	}
	return out
}
