package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateQuery_CityRequired(t *testing.T) {
	tests := []struct {
		name string
		city string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"tab", "\t"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateQuery(tc.city, "gb")
			if !errors.Is(err, ErrCityRequired) {
				t.Errorf("error = %v, want ErrCityRequired", err)
			}
		})
	}
}

func TestValidateQuery_InvalidChars(t *testing.T) {
	tests := []struct {
		name    string
		city    string
		country string
	}{
		{"slash", "sea/ttle", ""},
		{"backslash", "sea\\ttle", ""},
		{"question", "sea?ttle", ""},
		{"hash", "sea#ttle", ""},
		{"control", "sea\x00ttle", ""},
		{"percent", "sea%ttle", ""},
		{"comma in city", "london,uk", ""},
		{"bad country", "london", "g&b"},
		{"underscore country", "london", "_"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateQuery(tc.city, tc.country)
			if !errors.Is(err, ErrInvalidChars) {
				t.Errorf("error = %v, want ErrInvalidChars", err)
			}
		})
	}
}

func TestValidateQuery_Valid(t *testing.T) {
	tests := []struct {
		name        string
		city        string
		country     string
		wantCity    string
		wantCountry string
	}{
		{"simple", "Seattle", "", "Seattle", ""},
		{"with space", "New York", "US", "New York", "US"},
		{"hyphen", "Some-City", "", "Some-City", ""},
		{"apostrophe", "L'Aquila", "IT", "L'Aquila", "IT"},
		{"trimmed", "  Boston  ", " us ", "Boston", "us"},
		{"unicode", "Zürich", "CH", "Zürich", "CH"},
		{"digits", "Area51", "", "Area51", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateQuery(tc.city, tc.country)
			if err != nil {
				t.Fatalf("ValidateQuery() err = %v", err)
			}
			if got.City != tc.wantCity || got.Country != tc.wantCountry {
				t.Errorf("ValidateQuery() = %+v, want %q/%q", got, tc.wantCity, tc.wantCountry)
			}
		})
	}
}

func TestValidateQuery_LengthBoundaries(t *testing.T) {
	s100 := strings.Repeat("ü", MaxFieldLen)
	if _, err := ValidateQuery(s100, ""); err != nil {
		t.Fatalf("max boundary: err = %v", err)
	}
	_, err := ValidateQuery(s100+"a", "")
	if !errors.Is(err, ErrFieldTooLong) {
		t.Errorf("over max: err = %v, want ErrFieldTooLong", err)
	}
	_, err = ValidateQuery("paris", strings.Repeat("f", MaxFieldLen+1))
	if !errors.Is(err, ErrFieldTooLong) {
		t.Errorf("country over max: err = %v, want ErrFieldTooLong", err)
	}
}

func TestValidateHistoryQuery(t *testing.T) {
	tests := []struct {
		name    string
		city    string
		limit   int
		offset  int
		wantErr error
	}{
		{name: "all cities", limit: 10},
		{name: "city filter", city: " Paris ", limit: 0},
		{name: "limit too large", limit: 501, wantErr: ErrOutOfRange},
		{name: "negative offset", offset: -1, wantErr: ErrOutOfRange},
		{name: "bad city", city: "pa/ris", wantErr: ErrInvalidChars},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateHistoryQuery(tc.city, "", tc.limit, tc.offset)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateHistoryQuery() err = %v", err)
			}
			if got.City != strings.TrimSpace(tc.city) {
				t.Errorf("City = %q", got.City)
			}
		})
	}
}
