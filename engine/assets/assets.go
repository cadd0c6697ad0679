package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
	AssetTypeImage
	AssetTypeFont
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeShader:
		return "shader"
	case AssetTypeImage:
		return "image"
	case AssetTypeFont:
		return "font"
	}
	return "none"
}

type AssetInfo struct {
	Path       string
	Type       AssetType
	LastLoaded time.Time
}

// FnOnAssetChanged is called from the watcher goroutine when an indexed file is written.
type FnOnAssetChanged func(info AssetInfo)

/**
 * @brief Indexes the files under an assets directory by type and keeps
 * the index current with a recursive fsnotify watch. Loads go through the
 * registered loader of the asset's type.
 */
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader
	jobs    *JobSystem

	mutex sync.RWMutex

	done      chan struct{}
	fsnotify  *fsnotify.Watcher
	isClosed  bool
	onChanged FnOnAssetChanged
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	jobs, err := NewJobSystem(runtime.NumCPU(), len(passes.ShaderModules))
	if err != nil {
		fsWatch.Close()
		return nil, err
	}

	return &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[AssetType]Loader),
		jobs:     jobs,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}, nil
}

func (am *AssetManager) Initialize(assetsDir string) error {
	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return err
	}
	am.root = root

	// Register loaders
	am.registerLoader(AssetTypeShader, &ShaderLoader{})
	am.registerLoader(AssetTypeImage, &ImageLoader{})

	if err := am.addRecursive(root); err != nil {
		return err
	}
	go am.start()

	core.LogInfo("Asset manager watching '%s' (%d assets).", root, am.Len())
	return nil
}

// OnChanged sets the callback fired when an indexed asset is created or rewritten.
func (am *AssetManager) OnChanged(fn FnOnAssetChanged) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.onChanged = fn
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()
	close(am.done)
	return am.jobs.Shutdown()
}

// Len is the number of indexed assets.
func (am *AssetManager) Len() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// Info returns the index entry of a path relative to the assets root.
func (am *AssetManager) Info(name string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[am.key(name)]
	return info, ok
}

// AddRecursive starts watching the named directory and all sub-directories.
func (am *AssetManager) addRecursive(name string) error {
	if am.isClosed {
		return errors.New("asset watcher already closed")
	}
	return am.watchRecursive(name, false)
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// LoadAsset loads a file through the loader registered for its type.
func (am *AssetManager) LoadAsset(name string) (*Resource, error) {
	path := am.key(name)
	am.mutex.RLock()
	asset, exists := am.assets[path]
	loader, loaderExists := am.loaders[asset.Type]
	am.mutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("asset not found: %s", name)
	}
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}

	res, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load asset '%s': %w", name, err)
	}

	am.mutex.Lock()
	asset.LastLoaded = time.Now()
	am.assets[path] = asset
	am.mutex.Unlock()
	return res, nil
}

/**
 * @brief Loads every SPIR-V module of the deferred pipeline from dir
 * (relative to the assets root), one job per module. Module
 * "geometry.vert" is read from "geometry.vert.spv".
 */
func (am *AssetManager) LoadShaders(dir string) (passes.Shaders, error) {
	shaders := make(passes.Shaders, len(passes.ShaderModules))
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for _, name := range passes.ShaderModules {
		wg.Add(1)
		err := am.jobs.Submit(Job{
			Name: "load shader " + name,
			Run: func() error {
				res, err := am.LoadAsset(filepath.Join(dir, name+".spv"))
				if err != nil {
					return err
				}
				mu.Lock()
				shaders[name] = res.Data.([]byte)
				mu.Unlock()
				return nil
			},
			OnComplete: wg.Done,
			OnFailure: func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				wg.Done()
			},
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, err
		}
	}
	wg.Wait()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return shaders, nil
}

// LoadImage decodes an image asset into tightly packed RGBA8 texels.
func (am *AssetManager) LoadImage(name string) (*ImageData, error) {
	res, err := am.LoadAsset(name)
	if err != nil {
		return nil, err
	}
	img, ok := res.Data.(*ImageData)
	if !ok {
		return nil, fmt.Errorf("asset '%s' is a %s, not an image", name, res.Type)
	}
	return img, nil
}

func (am *AssetManager) key(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(am.root, name)
}

func (am *AssetManager) start() {
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name, false); err != nil {
						core.LogWarn("watch '%s': %s", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if info, ok := am.handleFileEvent(e.Name); ok {
					am.notify(info)
				}
			}
			// Can't stat a deleted path, so drop it from the index and the watch list alike.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) notify(info AssetInfo) {
	am.mutex.RLock()
	fn := am.onChanged
	am.mutex.RUnlock()
	if fn != nil {
		fn(info)
	}
}

// watchRecursive adds all directories under the given one to the watch list and indexes their files.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return AssetInfo{}, false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()

	info := AssetInfo{
		Path: filepath.Clean(path),
		Type: assetType,
	}
	if prev, ok := am.assets[info.Path]; ok {
		info.LastLoaded = prev.LastLoaded
	}
	am.assets[info.Path] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, filepath.Clean(path))
}

func determineAssetType(path string) AssetType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return AssetTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".webp", ".tiff":
		return AssetTypeImage
	case ".fnt":
		return AssetTypeFont
	default:
		return AssetTypeNone
	}
}
