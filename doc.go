// Package tune selects regression hyperparameters by K-fold cross-validation
// and sequential model-based search, then refits the winner and checks it
// against a held-out test split.
//
// # Features
//
// The package includes the following key features:
//
//   - Cross-validated objective: every configuration is scored as the mean
//     validation RMSE over the same K folds of the training split
//   - Sequential search: each proposal is informed by every score seen so
//     far, with a Gaussian Process or a Tree-structured Parzen Estimator
//   - Deterministic runs: the same seed, data and budget give the same
//     trials and the same best configuration
//   - Failure tolerance: a configuration whose fit fails is scored with
//     FailureScore and the search goes on
//   - Mixed search spaces: integer, uniform, log-uniform and categorical
//     dimensions
//   - Progress monitoring: real-time updates via channels, plus optional
//     persistence of every trial through a Recorder
//
// # Search Space
//
// A Space lists the dimensions of a configuration. The search decodes every
// proposal into a Params map keyed by dimension name:
//
//	space := tune.Space{
//	    tune.IntRange("max_depth", 3, 10),
//	    tune.LogUniform("learning_rate", 0.01, 0.2),
//	    tune.FloatRange("subsample", 0.6, 1.0),
//	    tune.Categorical("loss", "l2", "huber"),
//	}
//
// # Samplers
//
// Config.Sampler selects how proposals are made:
//
//   - SamplerGP (default): InitialSamples random proposals, then for each
//     trial NumCandidates random candidates ranked by a Gaussian Process and
//     an acquisition function
//   - SamplerTPE: a Tree-structured Parzen Estimator run as a goptuna study,
//     with InitialSamples uniform startup trials. All of its draws come from
//     one generator seeded with Config.Seed
//   - SamplerRandom: uniform random proposals, useful as a baseline
//
// # Acquisition Functions
//
// The GP sampler ranks candidates with one of four acquisition functions. All
// of them are minimized:
//
// 1. Upper Confidence Bound (UCB):
//
//   - Balances exploration and exploitation
//
//   - Controlled by Beta (higher = more exploration)
//
//   - Default choice
//
//     config := tune.DefaultConfig()
//     config.AcqParams.Beta = 2.0
//
// 2. Probability of Improvement (PI):
//
//   - Conservative, favours small reliable improvements
//
//     config.AcquisitionFunc = tune.ProbabilityOfImprovement
//     config.AcqParams.Xi = 0.01
//
// 3. Expected Improvement (EI):
//
//   - Weighs the size of the improvement as well as its probability
//
//     config.AcquisitionFunc = tune.ExpectedImprovement
//
// 4. Thompson Sampling:
//
//   - Draws from the posterior; the draw uses the search's seeded source
//
//     config.AcquisitionFunc = tune.ThompsonSampling
//
// # Cross-Validation
//
// A CrossValidator draws its folds once and adapts to the search through
// Objective. Learners are built fresh per fold from a LearnerFactory and fit
// on the fold's training rows only:
//
//	cv, err := tune.NewCrossValidator(train, 5, 42, factory)
//	if err != nil {
//	    return err
//	}
//
//	cv.Workers = 4 // fit folds concurrently
//
//	result, err := tune.Optimize(ctx, tune.DefaultConfig(), space, cv.Objective())
//
// # Final Training
//
// A Finalizer refits the best configuration on the full training split and
// scores it on the test split:
//
//	fin, err := tune.NewFinalizer(train, test, tune.Thresholds{MaxRMSE: &maxRMSE})
//	report, err := fin.Finalize(ctx, "ridge", factory, result)
//	report.WriteText(os.Stdout)
//
// Missing a threshold is not an error; the verdict is in Report.Pass.
//
// # Progress Monitoring
//
// Monitor progress using the progress channel:
//
//	progressChan := make(chan tune.ProgressUpdate, 100)
//	config.ProgressChan = progressChan
//
//	go func() {
//	    for update := range progressChan {
//	        fmt.Printf("Trial %d/%d: best %.4f\n",
//	            update.CurrentTrial, update.TotalTrials, update.CurrentBestScore)
//	    }
//	}()
//
// Updates are dropped when the channel is full; the search never blocks on it.
//
// # Thread Safety
//
// A Search runs its trials sequentially and runs once. State and Study are
// safe to call from other goroutines while it runs. CrossValidator.Evaluate
// is safe for concurrent use as long as the learners are.
package tune
