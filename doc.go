// Package ordino trains and evaluates neural re-rankers for ad-hoc text
// retrieval.
//
// Ordino drives the full experiment lifecycle: it ingests a document
// corpus into a store, builds a full-text index for first-stage
// retrieval, trains a scorer on pairwise triples (query, relevant
// document, non-relevant document), validates against a held-out topic
// fold while training, and evaluates the retained model on a test
// collection with standard ranking measures.
//
// # Basic Usage
//
// Create an experiment from a configuration and run its stages:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	exp, err := ordino.NewExperiment(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer exp.Close()
//
//	// Ingest the corpus and build the full-text index.
//	count, err := exp.BuildIndex(ctx)
//
//	// Train with per-epoch checkpoints and validation.
//	err = exp.Train(ctx)
//
//	// Evaluate the best retained model on the test topics.
//	report, err := exp.Evaluate(ctx, &ordino.EvaluateOptions{Measure: "RR@10"})
//	fmt.Print(report.String())
//
// # Data Formats
//
// All inputs are line-oriented text files, optionally gzipped:
//
//   - Corpus: "docid<TAB>text", one document per line
//   - Topics: "qid<TAB>text", one query per line
//   - Qrels: TREC format "qid 0 docid grade"
//   - Triples: "qid<TAB>posid<TAB>negid", one training instance per line
//
// # Training
//
// A run is MaxEpochs epochs of StepsPerEpoch optimizer steps. Each step
// draws a batch of triples, scores the (query, positive) and (query,
// negative) pairs, reduces them with the configured pairwise loss and
// applies one optimizer step. After every epoch the full run state
// (parameters, optimizer moments, sampler cursor, listener bookkeeping)
// is checkpointed; restarting the same run resumes from the epoch after
// the last checkpoint and never re-runs a completed epoch.
//
// # Validation
//
// When a validation fold is configured, that many assessed topics are
// held out of training. Every Interval epochs the held-out topics are
// ranked by the full retrieval pipeline, re-ranking first-stage
// candidates with the live training model, and the configured measures
// are recorded. Measures marked keep-best retain a parameter snapshot
// whenever they improve, so evaluation can use the best model rather than
// the final one.
//
// # Monitoring
//
// With the monitor enabled, Train serves the run state over HTTP while it
// trains: GET /progress returns the current epoch, step, loss and
// accuracy as JSON.
//
// # Error Handling
//
// The library wraps typed errors for common scenarios:
//
//   - letor.ErrConfiguration: an invalid component composition
//   - letor.ErrNumericalDivergence: a NaN or infinite score, fatal to the run
//   - ErrNotIndexed: retrieval attempted before BuildIndex
//   - ErrNotTrained: evaluation without a checkpoint or retained model
//
// # Architecture
//
// The facade wires together the component packages:
//
//   - pkg/dataset: corpus, topic, qrels and triple readers
//   - pkg/index: the document store (badger, LRU-cached)
//   - pkg/retrieval: first-stage retrieval (bleve) and two-stage re-ranking
//   - pkg/sampler: triple sampling with resumable cursors
//   - pkg/scorer: trainable scorers and the LLM baseline
//   - pkg/trainer: pairwise losses and adaptive micro-batching
//   - pkg/learner: the epoch loop, checkpoints and validation
//   - pkg/evaluation: ranking measures, run files and reports
//
// Components accept interfaces, so callers needing a composition the
// configuration cannot express can assemble these packages directly.
package ordino
