// Package evaluation computes IR quality measures over retrieval runs.
//
// A Run maps each topic to its ranked documents and round-trips through the
// standard six-column run file format. Measures (AP, precision, reciprocal
// rank, nDCG, each with optional rank cutoffs) are parsed from compact
// strings like "ndcg@20". The Native evaluator computes them in process;
// TrecEval shells out to a trec_eval binary and parses its output, so
// validation numbers can be cross-checked against the reference tool.
package evaluation
