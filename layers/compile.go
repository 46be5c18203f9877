package layers

import (
	"fmt"

	"github.com/tsawler/petsbench/memory"
	"github.com/tsawler/petsbench/tensor"
)

// CompiledModule wraps a module so that every forward pass draws its scratch
// buffers (im2col columns) from a shared pool instead of allocating them.
type CompiledModule struct {
	Module
	pool *memory.BufferPool
}

// Compile prepares m for repeated execution. A nil pool gets a fresh one.
func Compile(m Module, pool *memory.BufferPool) *CompiledModule {
	if c, ok := m.(*CompiledModule); ok {
		return c
	}
	if pool == nil {
		pool = memory.NewBufferPool()
	}
	return &CompiledModule{Module: m, pool: pool}
}

func (c *CompiledModule) Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error) {
	local := ForwardContext{Pool: c.pool}
	if ctx != nil {
		local = *ctx
		if local.Pool == nil {
			local.Pool = c.pool
		}
	}
	return c.Module.Forward(x, &local)
}

// Pool returns the scratch pool used by the compiled module
func (c *CompiledModule) Pool() *memory.BufferPool {
	return c.pool
}

func (c *CompiledModule) String() string {
	return fmt.Sprintf("Compiled(%s)", c.Module)
}
