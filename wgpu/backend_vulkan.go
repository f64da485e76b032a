//go:build !nogpu

package wgpu

import (
	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan backend for New
)
