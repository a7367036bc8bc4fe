// Package config loads the client configuration.
//
// Sources, later ones winning:
//  1. built-in defaults
//  2. a .env file in the working directory, if present (joho/godotenv);
//     it only fills variables not already set in the environment
//  3. an optional YAML policy file, validated against the embedded CUE
//     schema (policy.cue)
//  4. LOTKEEP_* environment variables, plus the TWILIO_* credentials
//
// Every problem found is reported at once rather than stopping at the first.
package config
