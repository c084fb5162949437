package main

import (
	"fmt"

	"brewchat/internal/agui"
)

// ScaleRecipeParams asks the agent to rescale the shared recipe.
type ScaleRecipeParams struct {
	BatchLiters float64 `json:"batch_liters" jsonschema:"description=Target batch volume in liters,minimum=1"`
	Efficiency  float64 `json:"efficiency,omitempty" jsonschema:"description=Brewhouse efficiency as a fraction,minimum=0.3,maximum=1"`
}

// ConvertUnitsParams converts a brewing measurement between units.
type ConvertUnitsParams struct {
	Value float64 `json:"value"`
	From  string  `json:"from" jsonschema:"enum=l,enum=gal,enum=kg,enum=lb,enum=g,enum=oz,enum=c,enum=f"`
	To    string  `json:"to" jsonschema:"enum=l,enum=gal,enum=kg,enum=lb,enum=g,enum=oz,enum=c,enum=f"`
}

// EstimateABVParams estimates alcohol from gravity readings.
type EstimateABVParams struct {
	OriginalGravity float64 `json:"original_gravity" jsonschema:"description=Specific gravity before fermentation,minimum=1"`
	FinalGravity    float64 `json:"final_gravity" jsonschema:"description=Specific gravity after fermentation,minimum=0.98"`
}

// brewingTools returns the tool definitions advertised to the agent on every run.
func brewingTools() ([]agui.Tool, error) {
	defs := []struct {
		name        string
		description string
		params      any
	}{
		{"scale_recipe", "Scale the current recipe to a new batch size.", ScaleRecipeParams{}},
		{"convert_units", "Convert a volume, weight or temperature between units.", ConvertUnitsParams{}},
		{"estimate_abv", "Estimate alcohol by volume from original and final gravity.", EstimateABVParams{}},
	}

	out := make([]agui.Tool, 0, len(defs))
	for _, def := range defs {
		tool, err := agui.NewToolFromStruct(def.name, def.description, def.params)
		if err != nil {
			return nil, fmt.Errorf("build tool %s: %w", def.name, err)
		}
		out = append(out, tool)
	}
	return out, nil
}
