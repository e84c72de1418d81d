// Copyright 2026 The CZ7 Host Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hosting

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Image is the container image and base environment for one kind.
type Image struct {
	Image string            `yaml:"image"`
	Env   map[string]string `yaml:"env"`
}

// Catalog maps container kinds to images.
type Catalog struct {
	images map[Kind]Image
}

const minecraftImage = "itzg/minecraft-server"

// DefaultCatalog returns the built-in kind to image table.
func DefaultCatalog() *Catalog {
	return &Catalog{images: map[Kind]Image{
		KindMinecraftPaper:   {Image: minecraftImage, Env: map[string]string{"EULA": "TRUE", "TYPE": "PAPER"}},
		KindMinecraftForge:   {Image: minecraftImage, Env: map[string]string{"EULA": "TRUE", "TYPE": "FORGE"}},
		KindMinecraftVanilla: {Image: minecraftImage, Env: map[string]string{"EULA": "TRUE", "TYPE": "VANILLA"}},
		KindPythonBot:        {Image: "python:3.12-slim"},
		KindNodeJSApp:        {Image: "node:22-alpine"},
	}}
}

type catalogFile struct {
	Kinds map[string]*Image `yaml:"kinds"`
}

// LoadCatalog overlays the YAML file at path on the defaults. An entry with
// an empty image removes the kind. An empty path returns the defaults.
//
//	kinds:
//	  PYTHON_BOT:
//	    image: registry.local/python-bot:3.12
//	  NODEJS_APP:
//	    image: ""
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse image catalog %s: %w", path, err)
	}

	for name, img := range f.Kinds {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("image catalog %s: %w", path, err)
		}
		if kind.IsVM() {
			return nil, fmt.Errorf("image catalog %s: %s does not run in a container", path, kind)
		}
		if img == nil || img.Image == "" {
			delete(c.images, kind)
			continue
		}
		c.images[kind] = *img
	}
	return c, nil
}

// Lookup returns the image for kind. The env map is a copy.
func (c *Catalog) Lookup(kind Kind) (Image, bool) {
	img, ok := c.images[kind]
	if !ok {
		return Image{}, false
	}
	return Image{Image: img.Image, Env: maps.Clone(img.Env)}, true
}
