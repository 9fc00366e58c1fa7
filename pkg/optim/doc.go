// Package optim implements the parameter update side of training:
// SGD and Adam/AdamW over nn.Parameter gradients, learning-rate schedules
// with warmup, and regex parameter filters that route disjoint parameter
// groups to differently configured optimizers.
//
// A ModuleOptimizer is bound once to a scorer's parameters and then
// stepped once per batch; its full state serializes to JSON so a resumed
// run continues with identical moments and schedule position.
package optim
