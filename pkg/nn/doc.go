// Package nn provides the small numeric substrate the trainable scorers
// are built on: named parameter matrices with explicit gradient buffers,
// dense vector math, and numerically stable softmax helpers.
//
// There is no autodiff here. Scorers compute their own backward passes and
// accumulate into Parameter.Grad; optimizers in pkg/optim consume them.
package nn
