package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourceplane/mapflow/internal/cluster"
	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/parset"
	"github.com/sourceplane/mapflow/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInventory records concurrency per node and fails selected paths.
type fakeInventory struct {
	nodes []string
	delay time.Duration
	fail  func(cmd cluster.Command) bool
	// started is signalled when a command begins, if set.
	started chan string

	mu       sync.Mutex
	running  map[string]int
	maxNode  map[string]int
	total    int32
	maxTotal int32
	calls    []cluster.Command
}

func newFakeInventory(delay time.Duration, nodes ...string) *fakeInventory {
	return &fakeInventory{nodes: nodes, delay: delay, running: map[string]int{}, maxNode: map[string]int{}}
}

func (f *fakeInventory) Nodes() []string { return f.nodes }

func (f *fakeInventory) Run(ctx context.Context, node string, cmd cluster.Command) (cluster.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.running[node]++
	if f.running[node] > f.maxNode[node] {
		f.maxNode[node] = f.running[node]
	}
	f.mu.Unlock()

	cur := atomic.AddInt32(&f.total, 1)
	for {
		prev := atomic.LoadInt32(&f.maxTotal)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxTotal, prev, cur) {
			break
		}
	}
	if f.started != nil {
		f.started <- node
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}

	atomic.AddInt32(&f.total, -1)
	f.mu.Lock()
	f.running[node]--
	f.mu.Unlock()

	if f.fail != nil && f.fail(cmd) {
		return cluster.Result{ExitCode: 1}, errors.New("exit status 1")
	}
	return cluster.Result{}, nil
}

func (f *fakeInventory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func buildStep(t *testing.T, text string, id string) *model.Step {
	t.Helper()
	doc, err := parset.Parse(text)
	require.NoError(t, err)
	def, err := planner.Build(doc)
	require.NoError(t, err)
	step, ok := def.Step(id)
	require.True(t, ok)
	return step
}

func inputMapFile(n int, nodes ...string) *model.MapFile {
	entries := make([]model.Entry, n)
	for i := range entries {
		entries[i] = model.Entry{Node: nodes[i%len(nodes)], Path: filepath.Join("/data", "L"+string(rune('1'+i))+".ms")}
	}
	return model.NewMapFile("input.mapfile", entries)
}

const maskStep = `pipeline.steps = [mask]
mask.control.type = executable_args
mask.control.opts.executable = /opt/scripts/make_clean_mask.py
mask.control.opts.mapfile_in = input.mapfile
mask.control.opts.inputkey = imagefile
mask.control.opts.outputkey = maskfile
mask.control.opts.arguments = [imagefile, maskfile, --verbose]
mask.control.opts.max_per_node = 1
mask.parsetarg.threshisl = 3.0
mask.parsetarg.rmsbox = (70, 20)
mask.parsetarg.box.sizes = [imagefile, 7]
`

func TestDispatchMaxPerNode(t *testing.T) {
	step := buildStep(t, maskStep, "mask")
	inv := newFakeInventory(30*time.Millisecond, "n1", "n2")
	d := NewDispatcher(inv, Config{WorkDir: t.TempDir()}, zerolog.Nop())

	// 4 entries over 2 nodes, 2 each.
	units := d.Units(step, []*model.MapFile{inputMapFile(4, "n1", "n2")})
	results := d.Dispatch(context.Background(), step, units)

	require.Len(t, results, 4)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.True(t, r.Started)
	}
	assert.Equal(t, 1, inv.maxNode["n1"])
	assert.Equal(t, 1, inv.maxNode["n2"])
	assert.LessOrEqual(t, inv.maxTotal, int32(2))
}

func TestDispatchUnbounded(t *testing.T) {
	step := buildStep(t, strings.Replace(maskStep, "max_per_node = 1", "max_per_node = 0", 1), "mask")
	inv := newFakeInventory(50*time.Millisecond, "n1")
	d := NewDispatcher(inv, Config{WorkDir: t.TempDir()}, zerolog.Nop())

	results := d.Dispatch(context.Background(), step, d.Units(step, []*model.MapFile{inputMapFile(3, "n1")}))
	require.Len(t, results, 3)
	assert.Equal(t, int32(3), inv.maxTotal, "all units run at once on one node")
}

func TestDispatchPreservesPositions(t *testing.T) {
	step := buildStep(t, maskStep, "mask")
	work := t.TempDir()
	inv := newFakeInventory(time.Millisecond, "n1", "n2")
	d := NewDispatcher(inv, Config{WorkDir: work}, zerolog.Nop())

	units := d.Units(step, []*model.MapFile{inputMapFile(2, "n1", "n2")})
	results := d.Dispatch(context.Background(), step, units)

	require.Len(t, results, 2)
	assert.Equal(t, "n1", results[0].Unit.Node)
	assert.Equal(t, "n2", results[1].Unit.Node)
	assert.Equal(t, filepath.Join(work, "mask", "L1.ms.mask"), results[0].Unit.Output)
	assert.Equal(t, filepath.Join(work, "mask", "L2.ms.mask"), results[1].Unit.Output)
}

func TestExecutableArgsCommand(t *testing.T) {
	step := buildStep(t, maskStep, "mask")
	work := t.TempDir()
	d := NewDispatcher(newFakeInventory(0, "n1"), Config{WorkDir: work}, zerolog.Nop())

	units := d.Units(step, []*model.MapFile{inputMapFile(1, "n1")})
	recipe, err := d.Recipe(step.Recipe)
	require.NoError(t, err)
	cmd, err := recipe.Prepare(step, units[0])
	require.NoError(t, err)

	out := filepath.Join(work, "mask", "L1.ms.mask")
	assert.Equal(t, "/opt/scripts/make_clean_mask.py", cmd.Path)
	assert.Equal(t, []string{
		"/data/L1.ms", out, "--verbose",
		"--threshisl=3.0",
		"--rmsbox=(70, 20)",
		"--box.sizes=/data/L1.ms,7",
	}, cmd.Args)
}

const imageStep = `pipeline.steps = [img]
img.control.type = casapy
img.control.opts.mapfiles_in = [input.mapfile, model.mapfile]
img.control.opts.inputkeys = [imagerinputms, imagermodel]
img.control.opts.outputkey = imagerimage
img.parsetarg.niter = 1000
img.parsetarg.clean.vis = imagerinputms
img.parsetarg.clean.modelimage = imagermodel
img.parsetarg.clean.imagename = imagerimage
img.parsetarg.clean.imsize = [6250, 6250]
img.parsetarg.clean.cell = ['7.5arcsec', '7.5arcsec']
img.parsetarg.clean.uvrange = "0.08~7.0klambda"
img.parsetarg.clean.mask = []
img.parsetarg.clean.usescratch = False
img.parsetarg.clean.threshisl = 3.0
img.parsetarg.clean.label = "it's"
img.parsetarg.clean.outlier = {a: 1}
`

func TestCasapyScriptAndCommand(t *testing.T) {
	step := buildStep(t, imageStep, "img")
	work := t.TempDir()
	scripts := filepath.Join(work, "scripts")
	d := NewDispatcher(newFakeInventory(0, "n1"), Config{WorkDir: work, ScriptDir: scripts}, zerolog.Nop())

	models := model.NewMapFile("model.mapfile", []model.Entry{{Node: "n1", Path: "/data/model.img"}})
	units := d.Units(step, []*model.MapFile{inputMapFile(1, "n1"), models})
	recipe, err := d.Recipe(step.Recipe)
	require.NoError(t, err)
	cmd, err := recipe.Prepare(step, units[0])
	require.NoError(t, err)

	scriptPath := filepath.Join(scripts, "img", "unit-0.py")
	assert.Equal(t, "casapy", cmd.Path)
	assert.Equal(t, []string{"--nologger", "--log2term", "--nogui", "-c", scriptPath}, cmd.Args)

	script, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	out := filepath.Join(work, "img", "L1.ms.img")
	assert.Equal(t, "# step img, unit 0 on n1\n"+
		"niter = 1000\n"+
		"clean(vis='/data/L1.ms', modelimage='/data/model.img', imagename='"+out+"', "+
		"imsize=[6250, 6250], cell=['7.5arcsec', '7.5arcsec'], uvrange='0.08~7.0klambda', "+
		"mask=[], usescratch=False, threshisl=3.0, label='it\\'s', outlier={'a': 1})\n",
		string(script))
}

func TestCasapyScriptTuples(t *testing.T) {
	text := `pipeline.steps = [img]
img.control.type = casapy
img.control.opts.mapfile_in = input.mapfile
img.control.opts.inputkey = imagerinputms
img.control.opts.outputkey = imagerimage
img.parsetarg.rmsbox = (70, 20)
img.parsetarg.clean.vis = imagerinputms
img.parsetarg.clean.pair = (imagerinputms,imagerimage)
img.parsetarg.clean.empty = ()
`
	step := buildStep(t, text, "img")
	unit := Unit{Index: 0, Node: "n1", Inputs: []string{"/data/L1.ms"}, Output: "/work/img/L1.ms.img"}

	assert.Equal(t, "# step img, unit 0 on n1\n"+
		"rmsbox = (70, 20)\n"+
		"clean(vis='/data/L1.ms', pair=('/data/L1.ms', '/work/img/L1.ms.img'), empty=())\n",
		Script(step, unit))
}

func TestCasapyStepOverrides(t *testing.T) {
	text := strings.Replace(imageStep, "img.control.opts.outputkey", "img.control.opts.executable = /opt/casa/bin/casa\nimg.control.opts.arguments = [--nogui, -c]\nimg.control.opts.outputkey", 1)
	step := buildStep(t, text, "img")
	work := t.TempDir()
	d := NewDispatcher(newFakeInventory(0, "n1"), Config{WorkDir: work, CasapyExecutable: "casapy-default"}, zerolog.Nop())

	models := model.NewMapFile("model.mapfile", []model.Entry{{Node: "n1", Path: "/data/model.img"}})
	units := d.Units(step, []*model.MapFile{inputMapFile(1, "n1"), models})
	cmd, err := d.casapy.Prepare(step, units[0])
	require.NoError(t, err)
	assert.Equal(t, "/opt/casa/bin/casa", cmd.Path)
	assert.Equal(t, []string{"--nogui", "-c", filepath.Join(work, "scripts", "img", "unit-0.py")}, cmd.Args)
}

func TestDispatchSkipsEntries(t *testing.T) {
	step := buildStep(t, maskStep, "mask")
	inv := newFakeInventory(time.Millisecond, "n1")
	d := NewDispatcher(inv, Config{WorkDir: t.TempDir()}, zerolog.Nop())

	in := model.NewMapFile("input.mapfile", []model.Entry{
		{Node: "n1", Path: "/data/L1.ms"},
		{Node: "n1", Path: "/data/L2.ms", Skip: true},
	})
	results := d.Dispatch(context.Background(), step, d.Units(step, []*model.MapFile{in}))

	require.Len(t, results, 2)
	assert.True(t, results[0].Started)
	assert.False(t, results[1].Started)
	assert.True(t, results[1].Unit.Skip)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, inv.callCount())
}

func TestDispatchReportsUnitFailures(t *testing.T) {
	step := buildStep(t, maskStep, "mask")
	inv := newFakeInventory(time.Millisecond, "n1", "n2")
	inv.fail = func(cmd cluster.Command) bool { return cmd.Args[0] == "/data/L2.ms" }
	d := NewDispatcher(inv, Config{WorkDir: t.TempDir()}, zerolog.Nop())

	results := d.Dispatch(context.Background(), step, d.Units(step, []*model.MapFile{inputMapFile(4, "n1", "n2")}))

	var failed []int
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r.Unit.Index)
			assert.True(t, errors.Is(r.Err, model.ErrUnitFailed))
		}
	}
	assert.Equal(t, []int{1}, failed, "other units still run by default")
	assert.Equal(t, 4, inv.callCount())
}

func TestDispatchAbortOnUnitFailure(t *testing.T) {
	step := buildStep(t, maskStep, "mask")
	inv := newFakeInventory(10*time.Millisecond, "n1")
	inv.fail = func(cluster.Command) bool { return true }
	d := NewDispatcher(inv, Config{WorkDir: t.TempDir(), AbortOnUnitFailure: true}, zerolog.Nop())

	// One node, max_per_node=1: units queue behind the first admitted one,
	// which fails.
	results := d.Dispatch(context.Background(), step, d.Units(step, []*model.MapFile{inputMapFile(3, "n1")}))

	started := 0
	for _, r := range results {
		if r.Started {
			started++
			assert.True(t, errors.Is(r.Err, model.ErrUnitFailed))
		} else {
			assert.True(t, errors.Is(r.Err, model.ErrStepCancelled))
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, inv.callCount())
}

func TestDispatchCancellation(t *testing.T) {
	step := buildStep(t, maskStep, "mask")
	inv := newFakeInventory(50*time.Millisecond, "n1")
	inv.started = make(chan string, 4)
	d := NewDispatcher(inv, Config{WorkDir: t.TempDir()}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []UnitResult)
	go func() {
		done <- d.Dispatch(ctx, step, d.Units(step, []*model.MapFile{inputMapFile(3, "n1")}))
	}()

	<-inv.started
	cancel()
	results := <-done

	started := 0
	for _, r := range results {
		if r.Started {
			started++
			assert.NoError(t, r.Err, "in-flight units complete")
		} else {
			assert.True(t, errors.Is(r.Err, model.ErrStepCancelled))
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, inv.callCount())
}

func TestRecipeSelection(t *testing.T) {
	d := NewDispatcher(newFakeInventory(0), Config{}, zerolog.Nop())
	for _, rt := range model.RecipeTypes {
		r, err := d.Recipe(rt)
		require.NoError(t, err)
		assert.Equal(t, rt, r.Type())
	}
	_, err := d.Recipe(model.RecipeUnknown)
	assert.True(t, errors.Is(err, model.ErrUnsupportedRecipeType))
}
