package web

import (
	"sort"
	"time"

	"github.com/lawndon/go-controller/pkg/lawndon"
	"github.com/lawndon/go-controller/pkg/locate"
	"github.com/lawndon/go-controller/pkg/uwb"
)

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type siteView struct {
	Anchors map[string]point `json:"anchors"`
	Home    point            `json:"home"`
}

func newSiteView(cfg locate.Config) siteView {
	v := siteView{Anchors: map[string]point{}, Home: point(cfg.Home)}
	for id, p := range cfg.Anchors {
		v.Anchors[id] = point(p)
	}
	return v
}

type rangeView struct {
	Anchor   string    `json:"anchor"`
	Distance float64   `json:"distance"`
	At       time.Time `json:"at"`
}

func newRangeViews(ranges []uwb.Range) []rangeView {
	out := make([]rangeView, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, rangeView{Anchor: r.Anchor, Distance: r.Distance, At: r.ReceivedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Anchor < out[j].Anchor })
	return out
}

type fixView struct {
	Position point     `json:"position"`
	At       time.Time `json:"at"`
	// Omitted until the mower has moved far enough to know it.
	Heading  *float64  `json:"heading,omitempty"`
	Bearing  float64   `json:"bearing"`
	Distance float64   `json:"distance"`
}

func newFixView(f locate.Fix) fixView {
	v := fixView{
		Position: point(f.Position),
		At:       f.At,
		Bearing:  float64(f.Bearing),
		Distance: f.Distance,
	}
	if f.HaveHeading {
		h := float64(f.Heading)
		v.Heading = &h
	}
	return v
}

type statusView struct {
	State     string    `json:"state"`
	LastState string    `json:"lastState"`
	Since     time.Time `json:"since"`
	Errors    []string  `json:"errors"`
	Emergency bool      `json:"emergency"`

	Charging     bool    `json:"charging"`
	BatVoltage   float64 `json:"batVoltage"`
	BatteryLevel float64 `json:"batteryLevel"`

	LeftRpm     float64 `json:"leftRpm"`
	RightRpm    float64 `json:"rightRpm"`
	MowRpm      float64 `json:"mowRpm"`
	LeftOutput  int     `json:"leftOutput"`
	RightOutput int     `json:"rightOutput"`
	MowOutput   int     `json:"mowOutput"`

	LinkEstablished bool `json:"linkEstablished"`
	RSSI            int  `json:"rssi"`
}

func newStatusView(st lawndon.Status) statusView {
	errs := make([]string, 0, len(st.Errors))
	for _, k := range st.Errors {
		errs = append(errs, k.String())
	}
	return statusView{
		State:           st.State.String(),
		LastState:       st.LastState.String(),
		Since:           st.Since,
		Errors:          errs,
		Emergency:       st.Emergency,
		Charging:        st.Charging,
		BatVoltage:      st.BatVoltage,
		BatteryLevel:    st.BatteryLevel,
		LeftRpm:         st.LeftRpm,
		RightRpm:        st.RightRpm,
		MowRpm:          st.MowRpm,
		LeftOutput:      st.LeftOutput,
		RightOutput:     st.RightOutput,
		MowOutput:       st.MowOutput,
		LinkEstablished: st.LinkEstablished,
		RSSI:            st.RSSI,
	}
}
