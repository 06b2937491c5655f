package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone formats number as E.164. countryCode may be a region ("BD")
// or a calling code ("+880"); fallbackRegion applies when it is empty.
func NormalizePhone(number, countryCode, fallbackRegion string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", fmt.Errorf("phone number is empty")
	}
	region := regionFor(countryCode)
	if region == "" {
		region = strings.ToUpper(strings.TrimSpace(fallbackRegion))
	}
	num, err := phonenumbers.Parse(number, region)
	if err != nil {
		return "", fmt.Errorf("invalid phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", number)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func regionFor(countryCode string) string {
	cc := strings.TrimSpace(countryCode)
	if cc == "" {
		return ""
	}
	digits := strings.TrimPrefix(cc, "+")
	if n, err := strconv.Atoi(digits); err == nil {
		region := phonenumbers.GetRegionCodeForCountryCode(n)
		if region == phonenumbers.UNKNOWN_REGION {
			return ""
		}
		return region
	}
	return strings.ToUpper(cc)
}
