package dumper

import (
	"log"

	"cartdump/bus"
)

// Engine owns the board and the cartridge configuration. A single Run
// goroutine services the in channel, so dumps never overlap and config
// updates only land between dumps.
type Engine struct {
	board *bus.Board
	in    <-chan Msg
	out   chan<- Msg

	cfg Config
	buf [ChunkSize]byte
}

func NewEngine(board *bus.Board, in <-chan Msg, out chan<- Msg) *Engine {
	return &Engine{
		board: board,
		in:    in,
		out:   out,
		cfg:   DefaultConfig(),
	}
}

// Run services commands until the in channel closes or a dump fails
// fatally. The out channel is closed on return so the protocol side
// never blocks on a dead engine.
func (e *Engine) Run() error {
	defer close(e.out)

	for msg := range e.in {
		switch msg.Kind {
		case MsgStart:
			log.Printf("dumper: start %s dump\n", msg.Console)
			var err error
			switch msg.Console {
			case ConsoleNES:
				err = e.dumpNES()
			case ConsoleSNES:
				err = e.dumpSNES()
			default:
				log.Printf("dumper: no dump sequence for console %d\n", msg.Console)
			}
			if err != nil {
				log.Printf("dumper: dump failed: %v\n", err)
				return err
			}
		case MsgConfigChanged:
			e.cfg.Apply(msg.Field, msg.Value)
			log.Printf("dumper: config %s=%d\n", msg.Field, msg.Value)
		}
	}
	return nil
}

func (e *Engine) sendSetup(size uint32) {
	e.out <- Msg{Kind: MsgSetup, ROMSize: size}
}

// sendChunk copies the first n buffered bytes into a Data message.
func (e *Engine) sendChunk(n int) {
	m := Msg{Kind: MsgData, Length: n}
	copy(m.Data[:], e.buf[:n])
	e.out <- m
}

func (e *Engine) sendEnd() {
	e.out <- Msg{Kind: MsgEnd}
}
