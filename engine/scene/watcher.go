package scene

import (
	"errors"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

var ErrWatcherClosed = errors.New("scene watcher already closed")

// Watcher reloads a scene file when it changes on disk and applies the
// differences to the live scene, which fires the matching events.
type Watcher struct {
	path  string
	scene *Scene

	mutex    sync.Mutex
	fsnotify *fsnotify.Watcher
	isClosed bool
	done     chan struct{}
	reloads  chan error
}

func NewWatcher(path string, s *Scene) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatch.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		scene:    s,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		reloads:  make(chan error, 8),
	}, nil
}

// Start watches the directory of the scene file; editors often replace the
// file instead of writing it in place.
func (w *Watcher) Start() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return ErrWatcherClosed
	}
	if err := w.fsnotify.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.run()
	return nil
}

// Reloaded reports the outcome of every reload attempt. Results are dropped
// when nobody reads them.
func (w *Watcher) Reloaded() <-chan error {
	return w.reloads
}

func (w *Watcher) run() {
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.report(w.reload())
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("scene watcher: %s", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() error {
	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()
	desc, err := Decode(f)
	if err != nil {
		core.LogWarn("scene %s not reloaded: %s", w.path, err)
		return err
	}
	if err := w.scene.Apply(desc); err != nil {
		core.LogWarn("scene %s not applied: %s", w.path, err)
		return err
	}
	core.LogInfo("scene %s reloaded", w.path)
	return nil
}

func (w *Watcher) report(err error) {
	select {
	case w.reloads <- err:
	default:
	}
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return nil
	}
	w.isClosed = true
	w.mutex.Unlock()

	close(w.done)
	return w.fsnotify.Close()
}

// Apply merges a reloaded description into the live scene: materials are
// edited in place by name, objects are added and removed by name. Nodes and
// meshes that already exist are kept.
func (s *Scene) Apply(d *Description) error {
	for _, md := range d.Materials {
		fresh, err := md.build()
		if err != nil {
			return err
		}
		current := s.Material(md.Name)
		if current == nil {
			s.AddMaterial(fresh)
			continue
		}
		if samePasses(current.Passes, fresh.Passes) {
			continue
		}
		s.EditMaterial(current, func(m *Material) {
			m.Passes = nil
			for _, p := range fresh.Passes {
				m.AddPass(p)
			}
		})
	}
	for _, md := range d.Meshes {
		if s.Mesh(md.Name) != nil {
			continue
		}
		mesh, err := md.build()
		if err != nil {
			return err
		}
		s.AddMesh(mesh)
	}
	for _, nd := range d.Nodes {
		if s.Node(nd.Name) != nil {
			continue
		}
		node := NewSceneNode(nd.Name, vec3(nd.Position, math.NewVec3Zero()))
		node.ShadowCaster = !nd.NoShadows
		node.Static = nd.Static
		s.AddNode(node)
	}

	wanted := make(map[string]ObjectDescription, len(d.Objects))
	for _, od := range d.Objects {
		wanted[od.Name] = od
	}
	existing := make(map[string]bool)
	for _, g := range s.Geometries() {
		if _, ok := wanted[g.Name]; !ok {
			s.RemoveGeometry(g)
			continue
		}
		existing[g.Name] = true
	}
	for _, od := range d.Objects {
		if existing[od.Name] {
			continue
		}
		if err := s.addObject(od); err != nil {
			return err
		}
	}
	return nil
}

func samePasses(a, b []*Pass) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := *a[i], *b[i]
		x.ID, y.ID = 0, 0
		x.Material, y.Material = nil, nil
		x.Index, y.Index = 0, 0
		if !maps.Equal(x.Images, y.Images) {
			return false
		}
		x.Images, y.Images = nil, nil
		if !reflect.DeepEqual(x, y) {
			return false
		}
	}
	return true
}
