package gateway

import (
	"fmt"
	"strings"
)

// bankCodes maps bank names as captured during provider onboarding to the
// gateway's NUBAN bank codes.
var bankCodes = map[string]string{
	"access bank":         "044",
	"citibank":            "023",
	"ecobank":             "050",
	"fidelity bank":       "070",
	"first bank":          "011",
	"fcmb":                "214",
	"gtbank":              "058",
	"heritage bank":       "030",
	"keystone bank":       "082",
	"kuda bank":           "50211",
	"opay":                "999992",
	"palmpay":             "999991",
	"polaris bank":        "076",
	"providus bank":       "101",
	"stanbic ibtc":        "221",
	"standard chartered":  "068",
	"sterling bank":       "232",
	"union bank":          "032",
	"uba":                 "033",
	"unity bank":          "215",
	"wema bank":           "035",
	"zenith bank":         "057",
}

// ResolveBankCode maps a bank name to its gateway code, case-insensitively.
func ResolveBankCode(bankName string) (string, error) {
	code, ok := bankCodes[strings.ToLower(strings.TrimSpace(bankName))]
	if !ok {
		return "", fmt.Errorf("unknown bank: %s", bankName)
	}
	return code, nil
}
