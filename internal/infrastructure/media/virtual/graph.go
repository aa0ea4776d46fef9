package virtual

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"dubsync/internal/core/ports"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

var ErrGraphClosed = errors.New("audio graph closed")

type sourceNode struct {
	el *Element
}

type gainNode struct {
	src  ports.AudioNode
	gain float64
}

// AudioGraph routes element audio through gain stages into a mixed
// destination track.
type AudioGraph struct {
	host *Host

	mu     sync.Mutex
	closed bool
}

func (h *Host) NewAudioGraph() (ports.AudioGraph, error) {
	return &AudioGraph{host: h}, nil
}

func (g *AudioGraph) ElementSource(el ports.MediaElement) (ports.AudioNode, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	e, ok := el.(*Element)
	if !ok {
		return nil, fmt.Errorf("foreign element %T", el)
	}
	if buf, _ := e.audioFrom(); buf == nil {
		return nil, ErrNotLoaded
	}
	return &sourceNode{el: e}, nil
}

func (g *AudioGraph) Gain(src ports.AudioNode, value float64) ports.AudioNode {
	return &gainNode{src: src, gain: value}
}

func (g *AudioGraph) Destination(nodes ...ports.AudioNode) (ports.MediaStream, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	var inputs []mixInput
	for _, n := range nodes {
		in, err := resolveNode(n, 1)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	t := &destinationTrack{
		track:  newTrack(ports.TrackAudio, nil),
		inputs: inputs,
		rate:   g.host.opts.MixSampleRate,
	}
	return newStream(t), nil
}

func (g *AudioGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *AudioGraph) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGraphClosed
	}
	return nil
}

type mixInput struct {
	el   *Element
	gain float64
}

func resolveNode(n ports.AudioNode, gain float64) (mixInput, error) {
	switch node := n.(type) {
	case *sourceNode:
		return mixInput{el: node.el, gain: gain}, nil
	case *gainNode:
		return resolveNode(node.src, gain*node.gain)
	default:
		return mixInput{}, fmt.Errorf("unknown audio node %T", n)
	}
}

type destinationTrack struct {
	*track
	inputs []mixInput
	rate   beep.SampleRate
}

func (t *destinationTrack) openAudio(start time.Time) audioTap {
	positions := make([]float64, len(t.inputs))
	for i, in := range t.inputs {
		_, positions[i] = in.el.audioFrom()
	}
	return &mixTap{track: t, start: start, positions: positions}
}

type mixTap struct {
	track     *destinationTrack
	start     time.Time
	positions []float64
}

// finish renders each input from its position at open time, gained and
// resampled to the mix rate, summed over the captured window.
func (t *mixTap) finish(end time.Time) (beep.Streamer, beep.Format) {
	d := end.Sub(t.start)
	if d < 0 {
		d = 0
	}
	rate := t.track.rate
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}

	var parts []beep.Streamer
	for i, in := range t.track.inputs {
		buf, _ := in.el.audioFrom()
		if buf == nil {
			continue
		}
		src := buf.Format().SampleRate
		from := src.N(time.Duration(t.positions[i] * float64(time.Second)))
		if from > buf.Len() {
			from = buf.Len()
		}
		to := from + src.N(d)
		if to > buf.Len() {
			to = buf.Len()
		}
		var s beep.Streamer = &effects.Gain{Streamer: buf.Streamer(from, to), Gain: in.gain - 1}
		if src != rate {
			s = beep.Resample(4, src, rate, s)
		}
		parts = append(parts, s)
	}
	n := rate.N(d)
	return beep.Take(n, beep.Seq(beep.Mix(parts...), beep.Silence(-1))), format
}
