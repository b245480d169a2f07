package tensor

// Conv2DParams configures a 2D convolution.
//
// Stride, Padding and Dilation are given per spatial axis (height, width).
// Groups splits input and output channels into independent blocks: the kernel
// has shape [Cout, Cin/Groups, KH, KW] and output channel block g only sees
// input channel block g.
type Conv2DParams struct {
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
	Groups   int
}

// DefaultConv2DParams returns unit stride and dilation, no padding, one group.
func DefaultConv2DParams() Conv2DParams {
	return Conv2DParams{
		Stride:   [2]int{1, 1},
		Dilation: [2]int{1, 1},
		Groups:   1,
	}
}

// OutputSize computes the spatial output size for an input of size h x w
// and a kernel of size kh x kw.
func (p Conv2DParams) OutputSize(h, w, kh, kw int) (int, int) {
	oh := (h+2*p.Padding[0]-p.Dilation[0]*(kh-1)-1)/p.Stride[0] + 1
	ow := (w+2*p.Padding[1]-p.Dilation[1]*(kw-1)-1)/p.Stride[1] + 1
	return oh, ow
}

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// Implementations:
//   - CPU: pure Go, GEMM through gonum blas32
//   - Autodiff: decorator recording operations for reverse-mode differentiation
//
// Kernels never modify their inputs. Programming errors (shape mismatches,
// unsupported dtypes) panic with an "op: message" string.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// Element-wise math
	Exp(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	ReLU(x *RawTensor) *RawTensor
	ClampMin(x *RawTensor, floor float32) *RawTensor // max(x, floor)

	// Matrix operations
	MatMul(a, b *RawTensor) *RawTensor      // [M, K] @ [K, N] -> [M, N]
	BatchMatMul(a, b *RawTensor) *RawTensor // [Bt, M, K] @ [Bt, K, N] -> [Bt, M, N]

	// Convolution: input [N, Cin, H, W], kernel [Cout, Cin/groups, KH, KW]
	Conv2D(input, kernel *RawTensor, p Conv2DParams) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, p Conv2DParams) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, p Conv2DParams) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Expand(t *RawTensor, shape Shape) *RawTensor // materialize a broadcast

	// Reductions
	Sum(x *RawTensor) *RawTensor                            // total sum (scalar result)
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor  // sum along dimension
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor // mean along dimension
	Argmax(x *RawTensor, dim int) *RawTensor                // int32 indices along dimension

	Softmax(x *RawTensor, dim int) *RawTensor

	// CrossEntropy returns the mean negative log-likelihood of int32 targets [N]
	// under logits [N, K] as a scalar.
	CrossEntropy(logits, targets *RawTensor) *RawTensor

	// MulExpAdd computes eps*exp(psi)+mu in one pass. psi and mu share a shape;
	// eps has that shape or the same shape with extra leading sample dimensions.
	// The output has eps's shape.
	MulExpAdd(eps, psi, mu *RawTensor) *RawTensor

	// MulExpAddBackward returns the gradients of MulExpAdd with respect to psi
	// and mu, summed over any leading sample dimensions of eps.
	MulExpAddBackward(eps, psi, grad *RawTensor) (gradPsi, gradMu *RawTensor)

	// BatchNorm2D normalizes x [N, C, H, W] with per-channel batch statistics.
	// Returns the normalized tensor, the per-channel mean and the biased
	// variance (both [C]) and the inverse standard deviation used.
	BatchNorm2D(x *RawTensor, eps float32) (xhat, mean, variance, invStd *RawTensor)

	// BatchNorm2DBackward returns the input gradient of the normalization
	// given the normalized output, the inverse std and the output gradient.
	BatchNorm2DBackward(xhat, invStd, grad *RawTensor) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
