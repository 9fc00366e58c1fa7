// Package encoder provides the text representation layer under the
// scorers: a hashing tokenizer (no external vocabulary files) and a
// trainable bag-of-embeddings encoder with an explicit backward pass.
//
// Encoders are built in two phases: construct with their configuration,
// then Initialize with the experiment's Random before first use. A frozen
// view of any encoder is obtained with Frozen; dual scorers reject frozen
// encoders at construction since they cannot learn.
package encoder
