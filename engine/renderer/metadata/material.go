package metadata

import (
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

/** @brief The name of the default material. */
const DefaultMaterialName string = "default"

/**
 * @brief A material, which pairs a graphics pipeline with the
 * resources its shaders read: uniform buffers, textures, storage
 * images and input attachments.
 */
type Material struct {
	/** @brief The material name. */
	Name string
	/** @brief The pipeline the material draws with. Its layout decides the set layouts. */
	pipeline gpu.Pipeline
	/** @brief Every resource binding of the material, grouped by set. */
	bindings *binding.BindingCollection
}

func NewMaterial(name string, pipeline gpu.Pipeline) *Material {
	return &Material{
		Name:     name,
		pipeline: pipeline,
		bindings: binding.NewBindingCollection(),
	}
}

func (m *Material) Pipeline() gpu.Pipeline { return m.pipeline }

func (m *Material) Bindings() *binding.BindingCollection { return m.bindings }

func (m *Material) PipelineLayout() gpu.PipelineLayout {
	if m.pipeline == nil {
		return nil
	}
	return m.pipeline.Layout()
}

// Add registers one or more bindings; the first failure stops the rest.
func (m *Material) Add(bindings ...binding.ResourceBinding) error {
	for _, b := range bindings {
		if err := m.bindings.Add(b); err != nil {
			return err
		}
	}
	return nil
}
