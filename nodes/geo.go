package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/warriorguo/riskflow/types"
)

type geoConfig struct {
	AllowedCountries []string `json:"allowedCountries"`
	Action           string   `json:"action" default:"BLOCK"`
}

// GeoCheck requires both sides of the transaction to be in the allow-list.
// An empty allow-list admits everything.
func GeoCheck(ctx context.Context, in *types.NodeInput) (*types.NodeResult, error) {
	cfg := &geoConfig{}
	decodeConfig(in.Config, cfg)

	tx := in.Transaction
	if tx == nil {
		return &types.NodeResult{
			Status: types.StatusContinue,
			Reason: "Geo Check skipped (no transaction).",
		}, nil
	}

	codes := countryCodes(cfg.AllowedCountries)
	allowed := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		allowed[c] = struct{}{}
	}
	countryAllowed := func(country string) bool {
		if len(allowed) == 0 {
			return true
		}
		if country == "" {
			return false
		}
		_, exists := allowed[strings.ToUpper(country)]
		return exists
	}

	origin, destination := tx.Origin.Country, tx.Destination.Country
	var failed, details []string
	if !countryAllowed(origin) {
		failed = append(failed, "origin")
		details = append(details, "origin: "+orUnknown(origin))
	}
	if !countryAllowed(destination) {
		failed = append(failed, "destination")
		details = append(details, "destination: "+orUnknown(destination))
	}

	if len(failed) == 0 {
		return &types.NodeResult{
			Status: types.StatusContinue,
			Reason: "Origin and destination within allowed geographies.",
		}, nil
	}

	in.Services.Increment("geoAlert")

	status, severity := types.StatusBlock, types.SeverityHigh
	if strings.EqualFold(cfg.Action, string(types.StatusFlag)) {
		status, severity = types.StatusFlag, types.SeverityMedium
	}
	return &types.NodeResult{
		Status:   status,
		Reason:   fmt.Sprintf("Geo Check triggered (%s).", strings.Join(details, ", ")),
		Severity: severity,
		Metadata: types.Data{
			"failedSides": failed,
			"origin":      orUnknown(origin),
			"destination": orUnknown(destination),
		},
	}, nil
}

func orUnknown(country string) string {
	if country == "" {
		return "UNKNOWN"
	}
	return country
}
