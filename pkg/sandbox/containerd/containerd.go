// Package containerd backs pkg/sandbox.Sandbox with a real OCI-container
// runtime (SPEC_FULL.md §4.8), modeling a "component" as an image whose
// entrypoint speaks a tiny length-prefixed JSON request/response protocol
// over stdio. This is a reference/test backing for the core's request
// path, not a WASM component-model implementation — the real Theater
// system's sandbox is out of scope per spec.md §1. Grounded directly on
// the teacher's pkg/runtime.ContainerdRuntime: client construction,
// namespace handling, and the graceful-SIGTERM-then-SIGKILL stop sequence.
package containerd

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	ctrd "github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"

	"github.com/cuemby/theater/pkg/sandbox"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace Theater components run
	// under.
	DefaultNamespace = "theater"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopGraceDelay = 5 * time.Second
)

// Runtime is a sandbox.Sandbox backed by containerd.
type Runtime struct {
	client    *ctrd.Client
	namespace string
}

// New connects to containerd at socketPath (DefaultSocketPath if empty)
// under namespace (DefaultNamespace if empty).
func New(socketPath, namespace string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	client, err := ctrd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to containerd: %v", theatererr.ErrRuntime, err)
	}
	return &Runtime{client: client, namespace: namespace}, nil
}

// Close closes the containerd client connection.
func (r *Runtime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Load implements sandbox.Sandbox: ref.Hash names an image reference
// (pulling it if not already present), and a fresh container/task pair is
// started from it for this one Instance.
func (r *Runtime) Load(ctx context.Context, ref types.ContentRef) (sandbox.Instance, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, ref.Hash)
	if err != nil {
		image, err = r.client.Pull(ctx, ref.Hash, ctrd.WithPullUnpack)
		if err != nil {
			return nil, fmt.Errorf("%w: pull component image %s: %v", theatererr.ErrRuntime, ref.Hash, err)
		}
	}

	id := fmt.Sprintf("theater-%s-%s", shortHash(ref.Hash), uuid.New().String())
	container, err := r.client.NewContainer(ctx, id,
		ctrd.WithImage(image),
		ctrd.WithNewSnapshot(id+"-snapshot", image),
		ctrd.WithNewSpec(oci.WithImageConfig(image)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create component container: %v", theatererr.ErrRuntime, err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(stdinR, stdoutW, nil)))
	if err != nil {
		_, _ = container.Delete(ctx, ctrd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: create component task: %v", theatererr.ErrRuntime, err)
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_, _ = container.Delete(ctx, ctrd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: start component task: %v", theatererr.ErrRuntime, err)
	}

	inst := &instance{
		container: container,
		task:      task,
		stdinW:    stdinW,
		stdoutR:   stdoutR,
		bound:     make(map[string]sandbox.HostFunction),
		invokeC:   make(chan frame, 1),
	}
	if err := inst.handshake(); err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}
	go inst.readLoop()
	return inst, nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// frame types, each written/read as a 1-byte tag followed by a
// length-prefixed JSON body.
const (
	frameDeclare    byte = 'D' // component -> host, handshake only
	frameInvokeReq  byte = 'E' // host -> component, export invocation request
	frameInvokeResp byte = 'I' // component -> host, export invocation response
	frameCallback   byte = 'C' // component -> host, import call request
	frameCallbackOK byte = 'A' // host -> component, import call answer
)

type frame struct {
	tag  byte
	body []byte
}

type declareBody struct {
	Imports []string `json:"imports"`
	Exports []string `json:"exports"`
}

type invokeReqBody struct {
	Export string `json:"export"`
	Args   []byte `json:"args"`
}

type invokeRespBody struct {
	Result []byte `json:"result"`
	Err    string `json:"err"`
}

type callbackBody struct {
	ID     uint64 `json:"id"`
	Import string `json:"import"`
	Args   []byte `json:"args"`
}

type callbackAnswerBody struct {
	ID     uint64 `json:"id"`
	Result []byte `json:"result"`
	Err    string `json:"err"`
}

// instance is one running component's containerd task plus its stdio
// framing. A single background goroutine (readLoop) owns reading from
// stdoutR and demultiplexes frames by tag, since the component may
// interleave export-invocation responses with host-function callback
// requests on the same pipe.
type instance struct {
	container ctrd.Container
	task      ctrd.Task
	stdinW    io.WriteCloser
	stdoutR   io.Reader

	mu      sync.Mutex
	imports []string
	exports []string
	bound   map[string]sandbox.HostFunction

	writeMu sync.Mutex // serializes frame writes to stdinW

	invokeC chan frame // next frameInvokeResp delivered here
}

// handshake reads the component's startup declaration of its imports and
// exports, the first frame every component must write before accepting
// Invoke calls.
func (i *instance) handshake() error {
	f, err := readFrame(i.stdoutR)
	if err != nil {
		return fmt.Errorf("%w: component handshake: %v", theatererr.ErrRuntime, err)
	}
	if f.tag != frameDeclare {
		return fmt.Errorf("%w: expected handshake frame, got tag %q", theatererr.ErrRuntime, f.tag)
	}
	var decl declareBody
	if err := json.Unmarshal(f.body, &decl); err != nil {
		return fmt.Errorf("%w: decode component handshake: %v", theatererr.ErrSerialization, err)
	}
	i.imports = decl.Imports
	i.exports = decl.Exports
	return nil
}

func (i *instance) Imports() []string { return i.imports }
func (i *instance) Exports() []string { return i.exports }

// Bind implements sandbox.Instance.Bind.
func (i *instance) Bind(importName string, fn sandbox.HostFunction) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.bound[importName] = fn
	return nil
}

// readLoop demultiplexes frames arriving from the component: invoke
// responses are handed to whichever Invoke call is currently waiting,
// callback requests are dispatched to a bound host function on their own
// goroutine so a slow host function never blocks the reader.
func (i *instance) readLoop() {
	for {
		f, err := readFrame(i.stdoutR)
		if err != nil {
			close(i.invokeC)
			return
		}
		switch f.tag {
		case frameInvokeResp:
			i.invokeC <- f
		case frameCallback:
			go i.handleCallback(f)
		}
	}
}

func (i *instance) handleCallback(f frame) {
	var cb callbackBody
	if err := json.Unmarshal(f.body, &cb); err != nil {
		return
	}
	i.mu.Lock()
	fn, ok := i.bound[cb.Import]
	i.mu.Unlock()

	answer := callbackAnswerBody{ID: cb.ID}
	if !ok {
		answer.Err = fmt.Sprintf("import %q not bound", cb.Import)
	} else {
		result, err := fn(context.Background(), cb.Args)
		answer.Result = result
		if err != nil {
			answer.Err = err.Error()
		}
	}
	body, err := json.Marshal(answer)
	if err != nil {
		return
	}
	_ = writeFrame(i.stdinW, &i.writeMu, frameCallbackOK, body)
}

// Invoke implements sandbox.Instance.Invoke by writing one invoke-request
// frame and waiting on the next invoke-response frame the reader delivers.
// The actor task already guarantees at most one Invoke in flight per
// Instance (spec.md §4.5), so a single shared invokeC channel is safe.
func (i *instance) Invoke(ctx context.Context, export string, args []byte) ([]byte, error) {
	body, err := json.Marshal(invokeReqBody{Export: export, Args: args})
	if err != nil {
		return nil, fmt.Errorf("%w: encode invoke request: %v", theatererr.ErrSerialization, err)
	}
	if err := writeFrame(i.stdinW, &i.writeMu, frameInvokeReq, body); err != nil {
		return nil, fmt.Errorf("%w: write invoke request: %v", theatererr.ErrRuntime, err)
	}

	select {
	case f, ok := <-i.invokeC:
		if !ok {
			return nil, fmt.Errorf("%w: component stdio closed", theatererr.ErrRuntime)
		}
		var resp invokeRespBody
		if err := json.Unmarshal(f.body, &resp); err != nil {
			return nil, fmt.Errorf("%w: decode invoke response: %v", theatererr.ErrSerialization, err)
		}
		if resp.Err != "" {
			return nil, fmt.Errorf("%w: %s", theatererr.ErrRuntime, resp.Err)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the task (graceful SIGTERM, SIGKILL after stopGraceDelay) and
// deletes it and the container.
func (i *instance) Close(ctx context.Context) error {
	_ = i.stdinW.Close()

	if i.task != nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopGraceDelay)
		defer cancel()

		_ = i.task.Kill(stopCtx, syscall.SIGTERM)
		if statusC, err := i.task.Wait(stopCtx); err == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				_ = i.task.Kill(ctx, syscall.SIGKILL)
			}
		}
		_, _ = i.task.Delete(ctx)
	}
	if i.container != nil {
		_, _ = i.container.Delete(ctx, ctrd.WithSnapshotCleanup)
	}
	return nil
}

func readFrame(r io.Reader) (frame, error) {
	var header [5]byte // 1-byte tag + 4-byte BE length
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, err
	}
	return frame{tag: header[0], body: body}, nil
}

func writeFrame(w io.Writer, mu *sync.Mutex, tag byte, body []byte) error {
	mu.Lock()
	defer mu.Unlock()

	var header [5]byte
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
