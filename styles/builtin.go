package styles

import "photoart/providers"

const (
	hiDreamModel   = "fal-ai/hidream-e1-1"
	seedreamModel  = "fal-ai/bytedance/seedream/v4/edit"
	qwenEditModel  = "Qwen/Qwen-Image-Edit"
	sdImg2ImgModel = "@cf/runwayml/stable-diffusion-v1-5-img2img"
	kontextModel   = "kontext"

	defaultNegativePrompt = "low resolution, blur, distorted face"
)

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(
		instructionStyle("ghibli", "Studio Ghibli", "Magical anime-inspired artwork",
			"Convert this image into Studio Ghibli animation style"),
		instructionStyle("mosaic", "Mosaic Art", "Classical tile-based patterns",
			"Transform this image into mosaic art style"),
		Descriptor{
			ID:               "watercolor",
			DisplayName:      "Watercolor",
			Description:      "Soft washes on textured paper",
			Provider:         providers.FalAIName,
			Model:            seedreamModel,
			NeedsHostedImage: true,
			build: func(src Source) providers.Request {
				return providers.PromptEdit{
					Model:               seedreamModel,
					Prompt:              "Repaint this photo as a loose watercolor painting with soft washes and visible paper texture, keep the composition and faces",
					ImageURLs:           []string{src.ImageURL},
					EnableSafetyChecker: true,
				}
			},
		},
		Descriptor{
			ID:               "pixel",
			DisplayName:      "Pixel Art",
			Description:      "Retro 16-bit game sprites",
			Provider:         providers.ModelScopeName,
			Model:            qwenEditModel,
			NeedsHostedImage: true,
			build: func(src Source) providers.Request {
				return providers.TaskEdit{
					Model:    qwenEditModel,
					Prompt:   "Convert this image into 16-bit pixel art with a limited palette",
					ImageURL: src.ImageURL,
				}
			},
		},
		Descriptor{
			ID:          "oil",
			DisplayName: "Oil Painting",
			Description: "Thick brush strokes on canvas",
			Provider:    providers.CloudflareName,
			Model:       sdImg2ImgModel,
			build: func(src Source) providers.Request {
				var data []byte
				if src.Image != nil {
					data = src.Image.Data
				}
				return providers.Img2Img{
					Model:          sdImg2ImgModel,
					Prompt:         "an oil painting with thick impasto brush strokes on canvas",
					NegativePrompt: defaultNegativePrompt,
					Image:          data,
					Strength:       0.6,
					Guidance:       7.5,
					NumSteps:       20,
				}
			},
		},
		Descriptor{
			ID:               "sketch",
			DisplayName:      "Pencil Sketch",
			Description:      "Graphite lines and cross-hatching",
			Provider:         providers.PollinationsAIName,
			Model:            kontextModel,
			NeedsHostedImage: true,
			build: func(src Source) providers.Request {
				return providers.PromptEdit{
					Model:               kontextModel,
					Prompt:              "Redraw this photo as a detailed graphite pencil sketch with cross-hatching on white paper",
					ImageURLs:           []string{src.ImageURL},
					EnableSafetyChecker: true,
				}
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// instructionStyle is a HiDream-E1-1 edit driven by a single instruction.
func instructionStyle(id, name, description, instruction string) Descriptor {
	return Descriptor{
		ID:          id,
		DisplayName: name,
		Description: description,
		Provider:    providers.FalAIName,
		Model:       hiDreamModel,
		build: func(src Source) providers.Request {
			imageURL := src.ImageURL
			if imageURL == "" && src.Image != nil {
				imageURL = src.Image.String()
			}
			return providers.InstructionEdit{
				Model:               hiDreamModel,
				ImageURL:            imageURL,
				EditInstruction:     instruction,
				NegativePrompt:      defaultNegativePrompt,
				NumInferenceSteps:   50,
				GuidanceScale:       3.5,
				EnableSafetyChecker: true,
				OutputFormat:        "jpeg",
			}
		},
	}
}
