package configrepo

import (
	"gridctl/internal/device"
	"gridctl/internal/elements"
	"gridctl/internal/scriptcodec"
)

// device.Action and elements.Action are independently declared (device
// avoids importing the elements registry just to describe a fetched
// config); these adapters cross the boundary at the points that need
// default-collapse/expansion.

func toElementActionsPkg(in []device.Action) []elements.Action {
	out := make([]elements.Action, len(in))
	for i, a := range in {
		out[i] = elements.Action{Short: a.Short, Name: a.Name, Script: a.Script}
	}
	return out
}

func toDeviceActionsPkg(in []elements.Action) []device.Action {
	out := make([]device.Action, len(in))
	for i, a := range in {
		out[i] = device.Action{Short: a.Short, Name: a.Name, Script: a.Script}
	}
	return out
}

func actionsEqualDevice(a, b []elements.Action) bool {
	return scriptcodec.ActionsEqual(a, b)
}
