package view

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteText prints the View as aligned plain text for terminals.
func WriteText(w io.Writer, v View) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Device:\t%s\t(live: %s, last poll: %s)\n", v.Connection, v.Live, v.LastPoll)
	fmt.Fprintf(tw, "Firmware:\t%s\tHardware: %s\tIDF: %s\n", v.System.Firmware, v.System.Hardware, v.System.IDF)
	fmt.Fprintf(tw, "Free heap:\t%s\tUptime: %s\n", v.System.FreeHeap, v.System.Uptime)
	fmt.Fprintf(tw, "Network:\t%s\t%s\t%s\n", v.Network.Mode, v.Network.Address, v.Network.Status)
	fmt.Fprintf(tw, "Art-Net:\t%s packets\t%s DMX\t%s\n", v.Protocols.ArtNetPackets, v.Protocols.ArtNetDMX, v.Protocols.ArtNetRate)
	fmt.Fprintf(tw, "sACN:\t%s packets\t%s data\t%s\n", v.Protocols.SACNPackets, v.Protocols.SACNData, v.Protocols.SACNRate)

	for _, p := range v.Ports {
		fmt.Fprintf(tw, "Port %d:\t%s\tuniverse %s\t%s frames\t%s\n", p.Number, p.Mode, p.Universe, p.Frames, p.Rate)
		if len(p.Channels) > 0 {
			fmt.Fprintf(tw, "\t%s\tsignal %d%% (%s)\n", bars(p.Channels), p.Signal.Percent, p.Signal.Class)
		}
	}

	for _, n := range v.Notifications {
		fmt.Fprintf(tw, "%s:\t%s\n", n.Severity.Title(), n.Message)
	}
	return tw.Flush()
}

// bars draws one block per channel, scaled to eight heights.
func bars(chans []ChannelView) string {
	const ramp = "▁▂▃▄▅▆▇█"
	blocks := []rune(ramp)

	var b strings.Builder
	for _, c := range chans {
		i := c.Percent * (len(blocks) - 1) / 100
		b.WriteRune(blocks[i])
	}
	return b.String()
}
