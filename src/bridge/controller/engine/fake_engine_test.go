package engine

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/uber/lsp-bridge/src/bridge/internal/framing"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// callHandler answers a call from the bridge. Returning respond=false leaves the call unanswered.
type callHandler func(call *jsonrpc2.Call) (result interface{}, err error, respond bool)

// fakeEngine is an in-process engine speaking the framed protocol over pipes.
// It implements executor.Process.
type fakeEngine struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	writer  *framing.Writer

	handle callHandler

	mu        sync.Mutex
	methods   []string
	callIDs   []jsonrpc2.ID
	responses []*jsonrpc2.Response
	held      []*jsonrpc2.Call

	dieOnce sync.Once
	exited  chan struct{}
}

func newFakeEngine(handle callHandler) *fakeEngine {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	f := &fakeEngine{
		stdinR:  stdinR,
		stdinW:  stdinW,
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		writer:  framing.NewWriter(stdoutW),
		handle:  handle,
		exited:  make(chan struct{}),
	}
	go f.serve()
	return f
}

// defaultHandler completes the handshake and shutdown and answers everything else with null.
func defaultHandler(call *jsonrpc2.Call) (interface{}, error, bool) {
	switch call.Method() {
	case protocol.MethodInitialize:
		return map[string]interface{}{
			"capabilities": map[string]interface{}{},
			"serverInfo":   map[string]interface{}{"name": "fake-analyzer", "version": "0.0.1"},
		}, nil, true
	default:
		return nil, nil, true
	}
}

func (f *fakeEngine) Stdin() io.WriteCloser { return f.stdinW }
func (f *fakeEngine) Stdout() io.ReadCloser { return f.stdoutR }
func (f *fakeEngine) Pid() int              { return 4242 }

func (f *fakeEngine) Wait() error {
	<-f.exited
	return nil
}

func (f *fakeEngine) Kill() error {
	f.die()
	return nil
}

func (f *fakeEngine) die() {
	f.dieOnce.Do(func() {
		f.stdoutW.Close()
		f.stdinR.Close()
		close(f.exited)
	})
}

func (f *fakeEngine) serve() {
	reader := framing.NewReader(f.stdinR, 0)
	for {
		msg, err := reader.Read()
		if err != nil {
			f.die()
			return
		}

		switch m := msg.(type) {
		case *jsonrpc2.Call:
			f.mu.Lock()
			f.methods = append(f.methods, m.Method())
			f.callIDs = append(f.callIDs, m.ID())
			f.mu.Unlock()

			result, err, respond := f.handle(m)
			if !respond {
				f.mu.Lock()
				f.held = append(f.held, m)
				f.mu.Unlock()
				continue
			}
			f.reply(m.ID(), result, err)
		case *jsonrpc2.Notification:
			f.mu.Lock()
			f.methods = append(f.methods, m.Method())
			f.mu.Unlock()
			if m.Method() == protocol.MethodExit {
				f.die()
				return
			}
		case *jsonrpc2.Response:
			f.mu.Lock()
			f.responses = append(f.responses, m)
			f.mu.Unlock()
		}
	}
}

func (f *fakeEngine) reply(id jsonrpc2.ID, result interface{}, err error) error {
	resp, rerr := jsonrpc2.NewResponse(id, result, err)
	if rerr != nil {
		return rerr
	}
	return f.writer.Write(resp)
}

func (f *fakeEngine) send(msg jsonrpc2.Message) error {
	return f.writer.Write(msg)
}

func (f *fakeEngine) receivedMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeEngine) receivedCallIDs() []jsonrpc2.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]jsonrpc2.ID(nil), f.callIDs...)
}

func (f *fakeEngine) heldCalls() []*jsonrpc2.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*jsonrpc2.Call(nil), f.held...)
}

func (f *fakeEngine) receivedResponses() []*jsonrpc2.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*jsonrpc2.Response(nil), f.responses...)
}

func decodeParams(call *jsonrpc2.Call, v interface{}) error {
	return json.Unmarshal(call.Params(), v)
}
