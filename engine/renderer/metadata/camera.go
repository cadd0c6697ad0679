package metadata

import (
	"sync"

	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

/** @brief Size in bytes of the camera globals block: view, projection and position. */
const CameraGlobalsSize = 64 + 64 + 16

/**
 * @brief Represents a camera that renders the scene into its own
 * render target. The target's output is composed onto the screen
 * inside ScreenRect.
 */
type Camera struct {
	/** @brief Unique name; draws in a RenderPacket are keyed by it. */
	Name string
	/** @brief Inactive cameras are skipped by the pipeline. */
	Active bool
	/** @brief The G-buffer target this camera renders into. */
	Target *target.CameraRenderTarget
	/** @brief Where the camera output lands on the swapchain image. */
	ScreenRect gpu.Rect2D

	FovRadians float32
	NearClip   float32
	FarClip    float32

	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	position math.Vec3
	/** @brief The rotation of this camera using Euler angles (pitch, yaw, roll). */
	eulerRotation math.Vec3
	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	isDirty    bool
	viewMatrix math.Mat4
}

func NewCamera(name string, rt *target.CameraRenderTarget) *Camera {
	camera := &Camera{
		Name:       name,
		Active:     true,
		Target:     rt,
		FovRadians: math.DegToRad(45.0),
		NearClip:   0.1,
		FarClip:    1000.0,
	}
	if rt != nil {
		camera.ScreenRect = gpu.Rect2D{Extent: rt.Size()}
	}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.eulerRotation = math.NewVec3Zero()
	c.position = math.NewVec3Zero()
	c.isDirty = false
	c.viewMatrix = math.NewMat4Identity()
}

func (c *Camera) Position() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.isDirty = true
}

func (c *Camera) EulerRotation() math.Vec3 {
	return c.eulerRotation
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.eulerRotation = rotation
	c.isDirty = true
}

func (c *Camera) View() math.Mat4 {
	if c.isDirty {
		rotation := math.NewMat4EulerXYZ(c.eulerRotation.X, c.eulerRotation.Y, c.eulerRotation.Z)
		translation := math.NewMat4Translation(c.position)
		c.viewMatrix = rotation.Mul(translation).Inverse()
		c.isDirty = false
	}
	return c.viewMatrix
}

// Projection uses the aspect ratio of the camera's render target.
func (c *Camera) Projection() math.Mat4 {
	aspect := float32(1)
	if c.Target != nil {
		size := c.Target.Size()
		if size.Height > 0 {
			aspect = float32(size.Width) / float32(size.Height)
		}
	}
	return math.NewMat4Perspective(c.FovRadians, aspect, c.NearClip, c.FarClip)
}

// Globals encodes the camera uniform block read by the geometry and lighting shaders.
func (c *Camera) Globals() []byte {
	out := make([]byte, 0, CameraGlobalsSize)
	view := c.View()
	proj := c.Projection()
	out = math.AppendFloat32s(out, view.Data[:]...)
	out = math.AppendFloat32s(out, proj.Data[:]...)
	return math.AppendFloat32s(out, c.position.X, c.position.Y, c.position.Z, 1.0)
}

func (c *Camera) Forward() math.Vec3 {
	return c.View().Forward()
}

func (c *Camera) Right() math.Vec3 {
	return c.View().Right()
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward().MulScalar(amount))
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Forward().MulScalar(-amount))
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.Right().MulScalar(-amount))
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.Right().MulScalar(amount))
}

func (c *Camera) MoveUp(amount float32) {
	c.move(math.NewVec3Up().MulScalar(amount))
}

func (c *Camera) MoveDown(amount float32) {
	c.move(math.NewVec3Up().MulScalar(-amount))
}

func (c *Camera) move(delta math.Vec3) {
	c.position = c.position.Add(delta)
	c.isDirty = true
}

func (c *Camera) Yaw(amount float32) {
	c.eulerRotation.Y += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.eulerRotation.X += amount

	// Clamp to avoid Gimbal lock.
	limit := math.DegToRad(89.0)
	c.eulerRotation.X = math.Clamp(c.eulerRotation.X, -limit, limit)

	c.isDirty = true
}

/**
 * @brief Supplies the cameras to render each frame, in render order.
 */
type CameraManager interface {
	ActiveCameras() []*Camera
}

/**
 * @brief Keeps cameras in insertion order. Safe for concurrent use
 * so the game thread can add cameras while the renderer reads them.
 */
type SimpleCameraManager struct {
	mu      sync.RWMutex
	cameras []*Camera
}

func NewSimpleCameraManager(cameras ...*Camera) *SimpleCameraManager {
	m := &SimpleCameraManager{}
	for _, c := range cameras {
		m.Add(c)
	}
	return m
}

// Add replaces any camera with the same name.
func (m *SimpleCameraManager) Add(camera *Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.cameras {
		if c.Name == camera.Name {
			m.cameras[i] = camera
			return
		}
	}
	m.cameras = append(m.cameras, camera)
}

func (m *SimpleCameraManager) Remove(name string) *Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.cameras {
		if c.Name == name {
			m.cameras = append(m.cameras[:i], m.cameras[i+1:]...)
			return c
		}
	}
	return nil
}

func (m *SimpleCameraManager) Get(name string) *Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.cameras {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (m *SimpleCameraManager) All() []*Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Camera(nil), m.cameras...)
}

func (m *SimpleCameraManager) ActiveCameras() []*Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		if c.Active && c.Target != nil {
			out = append(out, c)
		}
	}
	return out
}
