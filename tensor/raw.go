// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/bdl/internal/tensor"
)

// RawTensor is the low-level tensor representation.
//
// RawTensor provides shape and type information via Shape(), DType() and
// Device(), typed data access via AsFloat32(), AsInt32() and friends, and
// deep copies via Clone(). Views created by Reshape share storage.
//
// Most users should use the high-level Tensor[T, B] type instead.
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32()
//	clone := raw.Clone()
type RawTensor = tensor.RawTensor
